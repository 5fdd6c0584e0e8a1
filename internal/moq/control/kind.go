// Package control implements the control-stream message codec (spec.md
// §4.13, §6.2): a varint kind tag, a length-prefixed frame, and one struct
// per message kind. Grounded in full on
// other_examples/a3e579c4_zsiec-prism__internal-moq-control.go.go (message
// kind constants, ReadControlMsg/WriteControlMsg framing, per-message
// Parse/Serialize split) and adapted from that file's IETF draft-15
// dialect to spec.md's simpler moq-lite-style fields (Path broadcast
// names, ordered bool, max_latency_ms), per
// _examples/original_source/rs/moq-lite/src/lite/{subscribe,announce}.rs.
package control

// Kind identifies a control message's wire type.
type Kind uint64

const (
	KindSetupClient Kind = iota
	KindSetupServer
	KindAnnouncePlease
	KindAnnounceInit
	KindAnnounceActive
	KindAnnounceEnded
	KindSubscribe
	KindSubscribeOK
	KindSubscribeDrop
	KindUnsubscribe
	KindFetch
	KindProbe
)

func (k Kind) String() string {
	switch k {
	case KindSetupClient:
		return "setup_client"
	case KindSetupServer:
		return "setup_server"
	case KindAnnouncePlease:
		return "announce_please"
	case KindAnnounceInit:
		return "announce_init"
	case KindAnnounceActive:
		return "announce_active"
	case KindAnnounceEnded:
		return "announce_ended"
	case KindSubscribe:
		return "subscribe"
	case KindSubscribeOK:
		return "subscribe_ok"
	case KindSubscribeDrop:
		return "subscribe_drop"
	case KindUnsubscribe:
		return "unsubscribe"
	case KindFetch:
		return "fetch"
	case KindProbe:
		return "probe"
	default:
		return "unknown"
	}
}
