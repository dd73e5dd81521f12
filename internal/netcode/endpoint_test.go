package netcode

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/levelsync/internal/log"
	"github.com/zjrosen/levelsync/internal/metrics"
)

// === Helper Functions ===

type received struct {
	from    PeerID
	kind    string
	payload string
}

func recordInto(out *[]received) HandlerFunc {
	return func(_ context.Context, f Frame) error {
		var s string
		if len(f.Payload) > 0 {
			if err := f.Decode(&s); err != nil {
				return err
			}
		}
		*out = append(*out, received{from: f.From, kind: f.Kind, payload: s})
		return nil
	}
}

func newSession(t *testing.T, clients ...PeerID) (*Hub, *Endpoint, []*Endpoint) {
	t.Helper()
	hub := NewHub(64)
	t.Cleanup(hub.Close)

	ctx := context.Background()
	host, err := hub.Join(ctx, "host", true)
	require.NoError(t, err)

	var eps []*Endpoint
	for _, id := range clients {
		ep, err := hub.Join(ctx, id, false)
		require.NoError(t, err)
		eps = append(eps, ep)
	}
	return hub, host, eps
}

// === Unit Tests ===

func TestHub_JoinRejectsDuplicates(t *testing.T) {
	hub, _, _ := newSession(t, "c1")
	ctx := context.Background()

	_, err := hub.Join(ctx, "c1", false)
	require.ErrorIs(t, err, ErrDuplicatePeer)

	_, err = hub.Join(ctx, "other-host", true)
	require.ErrorIs(t, err, ErrDuplicatePeer)
	require.Equal(t, PeerID("host"), hub.Host())
	require.Equal(t, 2, hub.Peers())
}

func TestHub_JoinAfterClose(t *testing.T) {
	hub := NewHub(8)
	hub.Close()

	_, err := hub.Join(context.Background(), "late", false)
	require.ErrorIs(t, err, ErrClosed)
}

func TestEndpoint_ServerRPCReachesHostOnly(t *testing.T) {
	_, host, clients := newSession(t, "c1", "c2")
	ctx := context.Background()

	var hostGot, c2Got []received
	host.Handle("ping", recordInto(&hostGot))
	clients[1].Handle("ping", recordInto(&c2Got))

	require.NoError(t, clients[0].ServerRPC(ctx, "ping", "hello"))

	require.Equal(t, 1, host.Step(ctx))
	require.Equal(t, 0, clients[1].Step(ctx))
	require.Equal(t, []received{{from: "c1", kind: "ping", payload: "hello"}}, hostGot)
	require.Empty(t, c2Got)
}

func TestEndpoint_ServerRPCFromHostLoopsBack(t *testing.T) {
	_, host, _ := newSession(t)
	ctx := context.Background()

	var got []received
	host.Handle("ping", recordInto(&got))
	require.NoError(t, host.ServerRPC(ctx, "ping", "self"))
	require.Equal(t, 1, host.Step(ctx))
	require.Equal(t, PeerID("host"), got[0].from)
}

func TestEndpoint_ClientRPCReachesEveryone(t *testing.T) {
	_, host, clients := newSession(t, "c1", "c2")
	ctx := context.Background()

	got := make([][]received, 3)
	for i, ep := range append([]*Endpoint{host}, clients...) {
		ep.Handle("weather", recordInto(&got[i]))
	}

	require.NoError(t, host.ClientRPC(ctx, "weather", "Rainy"))

	for i, ep := range append([]*Endpoint{host}, clients...) {
		require.Equal(t, 1, ep.Step(ctx))
		require.Equal(t, "Rainy", got[i][0].payload)
	}
}

func TestEndpoint_ClientRPCRequiresHost(t *testing.T) {
	_, _, clients := newSession(t, "c1")
	err := clients[0].ClientRPC(context.Background(), "weather", "Rainy")
	require.ErrorIs(t, err, ErrNotHost)
}

func TestEndpoint_ServerRPCWithoutHost(t *testing.T) {
	hub := NewHub(8)
	defer hub.Close()
	c, err := hub.Join(context.Background(), "c1", false)
	require.NoError(t, err)

	require.ErrorIs(t, c.ServerRPC(context.Background(), "ping", nil), ErrNoHost)
}

func TestEndpoint_PerSenderOrder(t *testing.T) {
	_, host, clients := newSession(t, "c1")
	ctx := context.Background()

	var got []received
	clients[0].Handle("seq", recordInto(&got))
	for _, s := range []string{"a", "b", "c", "d"} {
		require.NoError(t, host.ClientRPC(ctx, "seq", s))
	}
	host.HandleFunc("seq", func(context.Context, Frame) error { return nil })

	require.Equal(t, 4, clients[0].Step(ctx))
	payloads := make([]string, 0, len(got))
	for _, r := range got {
		payloads = append(payloads, r.payload)
	}
	require.Equal(t, []string{"a", "b", "c", "d"}, payloads)
}

func TestEndpoint_StepRunsFramesSentByHandlers(t *testing.T) {
	_, host, clients := newSession(t, "c1")
	ctx := context.Background()

	var replies []received
	host.HandleFunc("request", func(ctx context.Context, f Frame) error {
		return host.ClientRPC(ctx, "reply", "answer")
	})
	host.Handle("reply", recordInto(&replies))
	clients[0].HandleFunc("reply", func(context.Context, Frame) error { return nil })

	require.NoError(t, clients[0].ServerRPC(ctx, "request", nil))
	require.Equal(t, 2, host.Step(ctx), "reply loops back within the same step")
	require.Len(t, replies, 1)
}

func TestEndpoint_UnhandledKindCounted(t *testing.T) {
	rec := &log.Recorder{}
	log.InitWriter(rec)

	hub := NewHub(8)
	defer hub.Close()
	m := metrics.New("host")
	host, err := hub.Join(context.Background(), "host", true, WithMetrics(m))
	require.NoError(t, err)

	require.NoError(t, host.ClientRPC(context.Background(), "mystery", nil))
	require.Equal(t, 0, host.Step(context.Background()))

	snap, err := m.Snapshot()
	require.NoError(t, err)
	require.Equal(t, 1.0, snap["levelsync_net_undecodable_frames_total"])
	require.Equal(t, 1, rec.Count("no handler for frame"))
}

func TestEndpoint_HandlerErrorLogged(t *testing.T) {
	rec := &log.Recorder{}
	log.InitWriter(rec)

	_, host, _ := newSession(t)
	host.HandleFunc("boom", func(context.Context, Frame) error { return errors.New("bad payload") })
	require.NoError(t, host.ClientRPC(context.Background(), "boom", nil))
	host.Step(context.Background())

	require.Equal(t, 1, rec.Count("handler failed"))
}

func TestEndpoint_MiddlewareOrder(t *testing.T) {
	_, host, _ := newSession(t)
	ctx := context.Background()

	var order []string
	wrap := func(name string) Middleware {
		return func(next Handler) Handler {
			return HandlerFunc(func(ctx context.Context, f Frame) error {
				order = append(order, name)
				return next.Handle(ctx, f)
			})
		}
	}
	host.Use(wrap("outer"), wrap("inner"))
	host.HandleFunc("x", func(context.Context, Frame) error {
		order = append(order, "handler")
		return nil
	})

	require.NoError(t, host.ClientRPC(ctx, "x", nil))
	host.Step(ctx)
	require.Equal(t, []string{"outer", "inner", "handler"}, order)
}

func TestEndpoint_PropagatesSpanContext(t *testing.T) {
	_, host, clients := newSession(t, "c1")

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1, 2, 3},
		SpanID:     trace.SpanID{4, 5, 6},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	var gotTrace trace.TraceID
	clients[0].HandleFunc("traced", func(ctx context.Context, f Frame) error {
		gotTrace = trace.SpanContextFromContext(ctx).TraceID()
		return nil
	})
	host.HandleFunc("traced", func(context.Context, Frame) error { return nil })

	require.NoError(t, host.ClientRPC(ctx, "traced", nil))
	clients[0].Step(context.Background())
	require.Equal(t, sc.TraceID(), gotTrace)
}

func TestEndpoint_SendCancelled(t *testing.T) {
	_, host, _ := newSession(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, host.ClientRPC(ctx, "x", nil), context.Canceled)
}

func TestEndpoint_CloseLeavesHub(t *testing.T) {
	hub, host, clients := newSession(t, "c1")
	clients[0].Close()
	clients[0].Close()

	require.Equal(t, 1, hub.Peers())
	require.ErrorIs(t, clients[0].ServerRPC(context.Background(), "x", nil), ErrClosed)

	host.Close()
	require.Equal(t, PeerID(""), hub.Host())
}

func TestEndpoint_RunStopsOnCancel(t *testing.T) {
	_, host, _ := newSession(t)

	got := make(chan string, 1)
	host.HandleFunc("x", func(_ context.Context, f Frame) error {
		var s string
		if err := f.Decode(&s); err != nil {
			return err
		}
		got <- s
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- host.Run(ctx) }()

	require.NoError(t, host.ClientRPC(context.Background(), "x", "live"))
	select {
	case s := <-got:
		require.Equal(t, "live", s)
	case <-time.After(time.Second):
		require.Fail(t, "run did not dispatch")
	}

	cancel()
	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		require.Fail(t, "run did not stop")
	}
}

func TestEndpoint_InboxOverflowDropsFrames(t *testing.T) {
	hub := NewHub(2)
	defer hub.Close()
	ctx := context.Background()
	host, err := hub.Join(ctx, "host", true)
	require.NoError(t, err)
	host.HandleFunc("x", func(context.Context, Frame) error { return nil })

	for i := 0; i < 5; i++ {
		require.NoError(t, host.ClientRPC(ctx, "x", i))
	}
	require.Equal(t, 2, host.Step(ctx))
	require.Equal(t, uint64(3), hub.Dropped())
}
