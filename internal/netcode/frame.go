// Package netcode is the participant fabric: an in-process hub that carries
// CBOR-encoded frames between one host and its clients, and an endpoint that
// dispatches received frames to handlers on the participant's tick.
package netcode

import (
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/trace"
)

// PeerID names a participant on the hub.
type PeerID string

// Everyone addresses a frame to all participants, the sender included.
const Everyone PeerID = ""

var (
	// ErrClosed is returned when sending on or joining a closed hub or endpoint.
	ErrClosed = errors.New("netcode: closed")
	// ErrNotHost is returned when a client attempts a host-only send.
	ErrNotHost = errors.New("netcode: only the host may broadcast")
	// ErrNoHost is returned when a server call is made with no host joined.
	ErrNoHost = errors.New("netcode: no host on hub")
	// ErrDuplicatePeer is returned when a peer id or second host joins.
	ErrDuplicatePeer = errors.New("netcode: peer already joined")
)

// Frame is one remote call on the wire.
type Frame struct {
	From    PeerID     `cbor:"1,keyasint"`
	To      PeerID     `cbor:"2,keyasint,omitempty"`
	Kind    string     `cbor:"3,keyasint"`
	Seq     uint64     `cbor:"4,keyasint"`
	Payload RawMessage `cbor:"5,keyasint,omitempty"`
	TraceID []byte     `cbor:"6,keyasint,omitempty"`
	SpanID  []byte     `cbor:"7,keyasint,omitempty"`
}

// Decode unmarshals the frame payload into v.
func (f Frame) Decode(v any) error {
	if err := Unmarshal(f.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload from %s: %w", f.Kind, f.From, err)
	}
	return nil
}

// addressedTo reports whether peer should handle f.
func (f Frame) addressedTo(peer PeerID) bool {
	return f.To == Everyone || f.To == peer
}

// spanContext returns the sender's span context carried by f, if any.
func (f Frame) spanContext() trace.SpanContext {
	if len(f.TraceID) != len(trace.TraceID{}) || len(f.SpanID) != len(trace.SpanID{}) {
		return trace.SpanContext{}
	}
	var tid trace.TraceID
	var sid trace.SpanID
	copy(tid[:], f.TraceID)
	copy(sid[:], f.SpanID)
	return trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    tid,
		SpanID:     sid,
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	})
}

func (f *Frame) setSpanContext(sc trace.SpanContext) {
	if !sc.IsValid() {
		return
	}
	tid := sc.TraceID()
	sid := sc.SpanID()
	f.TraceID = tid[:]
	f.SpanID = sid[:]
}
