// Package session implements the per-connection state machine (spec.md
// §4.10): Handshaking, where client and server exchange (or skip, if ALPN
// is decisive) a SETUP version negotiation over the control stream, then
// Running, where a Publisher and a Subscriber share the control stream
// and the transport session until either side closes it. Grounded on
// alxayo-rtmp-go/internal/rtmp/conn/session.go's state-holder-plus-
// accessors shape, generalized from a fixed five-state RTMP command
// sequence to an explicit version-list negotiation, and on
// other_examples/0943bd9f_zsiec-prism__internal-distribution-moq_session.go.go's
// handleSetup (CLIENT_SETUP/SERVER_SETUP exchange, version-match check,
// control-stream framing via ReadControlMsg/WriteControlMsg — here
// control.ReadMessage/WriteMessage).
package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/alxayo/go-moq/internal/logger"
	"github.com/alxayo/go-moq/internal/moq/control"
	"github.com/alxayo/go-moq/internal/moq/transport"
	"github.com/alxayo/go-moq/internal/moqerrors"
)

// State is a session's lifecycle stage.
type State uint8

const (
	StateHandshaking State = iota
	StateRunning
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateHandshaking:
		return "handshaking"
	case StateRunning:
		return "running"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ALPNVersions maps a transport-negotiated ALPN token directly to a wire
// version, letting that version's dialect skip the control-stream SETUP
// exchange entirely (spec.md §4.10's "draft with no control stream"
// variant). Populated at link time per spec.md §6.1; a transport whose
// ALPN() is absent from this map, but still non-empty, is an unknown
// ALPN and is a fatal error before any Session is even constructed.
var ALPNVersions = map[string]uint64{}

// Session holds the negotiated version and shared transport/control
// stream for one connection, once past Handshaking.
type Session struct {
	mu      sync.Mutex
	state   State
	conn    transport.Session
	control transport.Stream
	version uint64
	log     *slog.Logger
}

// Version returns the negotiated wire version.
func (s *Session) Version() uint64 { return s.version }

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Control returns the shared control stream, or nil if this dialect's
// ALPN made SETUP (and therefore the control stream) unnecessary.
func (s *Session) Control() transport.Stream { return s.control }

// Transport returns the underlying transport session, for opening the
// per-group uni-streams a Publisher or Subscriber needs.
func (s *Session) Transport() transport.Session { return s.conn }

// Log returns a logger tagged with this session's identity.
func (s *Session) Log() *slog.Logger { return s.log }

// HandshakeClient performs the client side of §4.10's handshake. versions
// is the client's offered version list, ordered by preference
// (versions[0] most preferred). sessionID is used only for logging.
func HandshakeClient(ctx context.Context, conn transport.Session, versions []uint64, sessionID string) (*Session, error) {
	const op = "session.handshake_client"
	log := logger.WithSession(logger.Logger(), sessionID, "")

	if alpn := conn.ALPN(); alpn != "" {
		v, ok := ALPNVersions[alpn]
		if !ok {
			return nil, moqerrors.New(op, moqerrors.KindUnknownALPN, nil)
		}
		log.Debug("version selected from ALPN, skipping SETUP", "alpn", alpn, "version", v)
		return &Session{state: StateRunning, conn: conn, version: v, log: log}, nil
	}

	stream, err := conn.OpenBi(ctx)
	if err != nil {
		return nil, moqerrors.New(op, moqerrors.KindTransport, err)
	}

	if err := control.WriteMessage(stream, control.KindSetupClient, control.SetupClient{Versions: versions}.Encode()); err != nil {
		return nil, moqerrors.New(op, moqerrors.KindTransport, err)
	}

	kind, payload, err := control.ReadMessage(stream)
	if err != nil {
		return nil, moqerrors.New(op, moqerrors.KindTransport, err)
	}
	if kind != control.KindSetupServer {
		conn.Close(uint64(control.CodeForKind(moqerrors.KindUnsupported)), "expected SETUP_SERVER")
		return nil, moqerrors.New(op, moqerrors.KindUnsupported, nil)
	}
	ss, err := control.DecodeSetupServer(payload)
	if err != nil {
		return nil, moqerrors.New(op, moqerrors.KindDecode, err)
	}

	chosen := false
	for _, v := range versions {
		if v == ss.Version {
			chosen = true
			break
		}
	}
	if !chosen {
		conn.Close(uint64(control.CodeForKind(moqerrors.KindVersionNegotiationFailed)), "server chose unoffered version")
		return nil, moqerrors.New(op, moqerrors.KindVersionNegotiationFailed, nil)
	}

	log.Debug("version negotiated", "version", ss.Version)
	return &Session{state: StateRunning, conn: conn, control: stream, version: ss.Version, log: log}, nil
}

// HandshakeServer performs the server side of §4.10's handshake.
// supported is the set of versions this server accepts; the chosen
// version is the first entry of the client's list (i.e. the client's most
// preferred) that also appears in supported.
func HandshakeServer(ctx context.Context, conn transport.Session, supported []uint64, sessionID string) (*Session, error) {
	const op = "session.handshake_server"
	log := logger.WithSession(logger.Logger(), sessionID, "")

	if alpn := conn.ALPN(); alpn != "" {
		v, ok := ALPNVersions[alpn]
		if !ok {
			return nil, moqerrors.New(op, moqerrors.KindUnknownALPN, nil)
		}
		log.Debug("version selected from ALPN, skipping SETUP", "alpn", alpn, "version", v)
		return &Session{state: StateRunning, conn: conn, version: v, log: log}, nil
	}

	stream, err := conn.AcceptBi(ctx)
	if err != nil {
		return nil, moqerrors.New(op, moqerrors.KindTransport, err)
	}

	kind, payload, err := control.ReadMessage(stream)
	if err != nil {
		return nil, moqerrors.New(op, moqerrors.KindTransport, err)
	}
	if kind != control.KindSetupClient {
		conn.Close(uint64(control.CodeForKind(moqerrors.KindUnsupported)), "expected SETUP_CLIENT")
		return nil, moqerrors.New(op, moqerrors.KindUnsupported, nil)
	}
	cs, err := control.DecodeSetupClient(payload)
	if err != nil {
		return nil, moqerrors.New(op, moqerrors.KindDecode, err)
	}

	chosen, ok := pickVersion(cs.Versions, supported)
	if !ok {
		stream.Close()
		conn.Close(uint64(control.CodeForKind(moqerrors.KindVersionNegotiationFailed)), "no common version")
		return nil, moqerrors.New(op, moqerrors.KindVersionNegotiationFailed, nil)
	}

	if err := control.WriteMessage(stream, control.KindSetupServer, control.SetupServer{Version: chosen}.Encode()); err != nil {
		return nil, moqerrors.New(op, moqerrors.KindTransport, err)
	}

	log.Debug("version negotiated", "version", chosen)
	return &Session{state: StateRunning, conn: conn, control: stream, version: chosen, log: log}, nil
}

// pickVersion returns the first entry of clientVersions (client's
// preference order) that also appears in supported.
func pickVersion(clientVersions, supported []uint64) (uint64, bool) {
	set := make(map[uint64]struct{}, len(supported))
	for _, v := range supported {
		set[v] = struct{}{}
	}
	for _, v := range clientVersions {
		if _, ok := set[v]; ok {
			return v, true
		}
	}
	return 0, false
}

// Close tears down the session: if err carries a moqerrors.Kind, the
// transport close code is derived from it (spec.md §4.10's "any task
// returning Err causes the transport to close with an application error
// code derived from the error kind"); otherwise a clean close is sent.
func (s *Session) Close(err error) error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosed
	s.mu.Unlock()

	code := control.ErrorCodeNone
	reason := "session closed"
	if err != nil {
		if k, ok := moqerrors.KindOf(err); ok {
			code = control.CodeForKind(k)
		} else {
			code = control.ErrorCodeInternal
		}
		reason = err.Error()
	}
	return s.conn.Close(uint64(code), reason)
}
