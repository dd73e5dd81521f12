package tracing

// Span attribute keys.
const (
	AttrFrameKind    = "frame.kind"
	AttrFrameFrom    = "frame.from"
	AttrFrameSeq     = "frame.seq"
	AttrPeerID       = "peer.id"
	AttrPeerHost     = "peer.host"
	AttrRPCDirection = "rpc.direction"

	AttrLifecycleState = "lifecycle.state"

	AttrErrorMessage = "error.message"
)

// RPC directions.
const (
	DirectionServer = "server"
	DirectionClient = "client"
)

// Span name prefixes.
const (
	SpanPrefixRPC       = "rpc."
	SpanPrefixHandler   = "handler."
	SpanPrefixLifecycle = "lifecycle."
)
