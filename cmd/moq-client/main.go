// Command moq-client is a one-shot MoQ peer: it dials a server over QUIC
// or WebSocket, completes the session handshake (spec.md §4.10), and
// either publishes a track read from a file/stdin, subscribes a track to
// a file/stdout, or lists broadcasts announced under a prefix. Grounded
// on alxayo-rtmp-go/cmd/rtmp-server/main.go's flag-parse → log-init →
// connect → run → graceful-shutdown shape, with the listener half
// replaced by a single outbound dial.
package main

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/quic-go/quic-go"

	"github.com/alxayo/go-moq/internal/logger"
	"github.com/alxayo/go-moq/internal/moq/control"
	"github.com/alxayo/go-moq/internal/moq/model"
	"github.com/alxayo/go-moq/internal/moq/origin"
	"github.com/alxayo/go-moq/internal/moq/path"
	"github.com/alxayo/go-moq/internal/moq/publisher"
	"github.com/alxayo/go-moq/internal/moq/session"
	"github.com/alxayo/go-moq/internal/moq/subscriber"
	"github.com/alxayo/go-moq/internal/moq/transport"
)

// maxReadFrame bounds a single publish-mode input line (1 MiB).
const maxReadFrame = 1 << 20

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}
	if cfg.showVersion {
		fmt.Println(version)
		return
	}

	logger.Init()
	if err := logger.SetLevel(cfg.logLevel); err != nil {
		fmt.Printf("warning: invalid log level %q, using default\n", cfg.logLevel)
	}
	log := logger.Logger().With("component", "moq-client")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := dial(ctx, cfg)
	if err != nil {
		log.Error("dial failed", "addr", cfg.addr, "transport", cfg.transport, "error", err)
		os.Exit(1)
	}

	sess, err := session.HandshakeClient(ctx, conn, cfg.versions, cfg.addr)
	if err != nil {
		log.Error("session handshake failed", "error", err)
		os.Exit(1)
	}
	defer sess.Close(nil)

	var writeMu sync.Mutex
	o := origin.New()
	scoped := o.ConsumeOnly(nil)
	pub := publisher.New(sess.Transport(), sess.Control(), &writeMu, scoped, sess.Log())
	sub := subscriber.New(sess.Transport(), sess.Control(), &writeMu, 1<<20, sess.Log())

	go sub.AcceptGroups(ctx)
	go readControlLoop(sess, pub, sub, log)

	var runErr error
	switch cfg.mode {
	case "publish":
		runErr = runPublish(ctx, cfg, o)
	case "subscribe":
		runErr = runSubscribe(ctx, cfg, sub)
	case "announce":
		runErr = runAnnounce(ctx, cfg, sub)
	}
	if runErr != nil {
		log.Error("run failed", "mode", cfg.mode, "error", runErr)
		os.Exit(1)
	}
}

// readControlLoop drains the control stream for the lifetime of the
// connection, dispatching replies to whichever half (publisher or
// subscriber) owns the message kind — the same split cmd/moq-server uses,
// since a single peer connection here runs both roles at once.
func readControlLoop(sess *session.Session, pub *publisher.Publisher, sub *subscriber.Subscriber, log interface {
	Warn(string, ...any)
}) {
	for {
		kind, payload, err := control.ReadMessage(sess.Control())
		if err != nil {
			return
		}
		switch kind {
		case control.KindAnnouncePlease, control.KindSubscribe, control.KindUnsubscribe, control.KindFetch, control.KindProbe:
			if err := pub.HandleMessage(context.Background(), kind, payload); err != nil {
				log.Warn("publisher handle_message failed", "kind", kind, "error", err)
			}
		default:
			if err := sub.HandleMessage(kind, payload); err != nil {
				log.Warn("subscriber handle_message failed", "kind", kind, "error", err)
			}
		}
	}
}

func dial(ctx context.Context, cfg *cliConfig) (transport.Session, error) {
	switch cfg.transport {
	case "ws":
		return dialWS(ctx, cfg)
	default:
		return dialQUIC(ctx, cfg)
	}
}

func dialQUIC(ctx context.Context, cfg *cliConfig) (transport.Session, error) {
	tlsConf := &tls.Config{InsecureSkipVerify: cfg.insecure, NextProtos: []string{"moq-go-01"}}
	conn, err := quic.DialAddr(ctx, cfg.addr, tlsConf, &quic.Config{})
	if err != nil {
		return nil, fmt.Errorf("quic dial %s: %w", cfg.addr, err)
	}
	return transport.NewQUICSession(conn), nil
}

func dialWS(ctx context.Context, cfg *cliConfig) (transport.Session, error) {
	dialer := websocket.Dialer{TLSClientConfig: &tls.Config{InsecureSkipVerify: cfg.insecure}}
	url := fmt.Sprintf("wss://%s/moq", cfg.addr)
	conn, resp, err := dialer.DialContext(ctx, url, http.Header{})
	if err != nil {
		return nil, fmt.Errorf("ws dial %s: %w", url, err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	return transport.NewWSSession(conn, false, ""), nil
}

// runPublish reads newline-delimited frames from cfg.publishFrom (each
// line becomes one frame in its own group,
// the simplest mapping that exercises TrackProducer.WriteFrame end to
// end) and publishes them under cfg.broadcast/cfg.track.
func runPublish(ctx context.Context, cfg *cliConfig, o *origin.Origin) error {
	var in io.Reader = os.Stdin
	if cfg.publishFrom != "-" {
		f, err := os.Open(cfg.publishFrom)
		if err != nil {
			return fmt.Errorf("open %s: %w", cfg.publishFrom, err)
		}
		defer f.Close()
		in = f
	}

	bp, bc := model.NewBroadcast()
	bPath, err := path.New(cfg.broadcast)
	if err != nil {
		return fmt.Errorf("invalid -broadcast %q: %w", cfg.broadcast, err)
	}
	o.PublishBroadcast(bPath, bc)
	tp := bp.Publish(cfg.track, uint8(cfg.priority))
	defer tp.Close()

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxReadFrame)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		tp.WriteFrame(time.Now().UnixMicro(), scanner.Bytes())
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read %s: %w", cfg.publishFrom, err)
	}
	<-ctx.Done()
	return nil
}

// runSubscribe issues SUBSCRIBE for cfg.broadcast/cfg.track and writes
// every delivered frame, one per line, to cfg.subscribeTo.
func runSubscribe(ctx context.Context, cfg *cliConfig, sub *subscriber.Subscriber) error {
	var out io.Writer = os.Stdout
	if cfg.subscribeTo != "-" {
		f, err := os.Create(cfg.subscribeTo)
		if err != nil {
			return fmt.Errorf("create %s: %w", cfg.subscribeTo, err)
		}
		defer f.Close()
		out = f
	}

	bPath, err := path.New(cfg.broadcast)
	if err != nil {
		return fmt.Errorf("invalid -broadcast %q: %w", cfg.broadcast, err)
	}
	tc, err := sub.Consume(ctx, bPath, cfg.track, uint8(cfg.priority), cfg.ordered, cfg.maxLatency)
	if err != nil {
		return fmt.Errorf("consume %s/%s: %w", cfg.broadcast, cfg.track, err)
	}
	defer tc.Release()

	for {
		gc, err := tc.NextGroup(ctx)
		if err != nil {
			return nil
		}
		if gc == nil {
			return nil
		}
		if err := writeGroup(ctx, out, gc); err != nil {
			return err
		}
	}
}

func writeGroup(ctx context.Context, out io.Writer, gc *model.GroupConsumer) error {
	for {
		fc, err := gc.NextFrame(ctx)
		if err != nil {
			return nil
		}
		if fc == nil {
			return nil
		}
		data, err := fc.ReadAll(ctx)
		if err != nil {
			return fmt.Errorf("read frame: %w", err)
		}
		if _, err := out.Write(data); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
		if _, err := out.Write([]byte("\n")); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
	}
}

// runAnnounce sends ANNOUNCE_PLEASE for cfg.prefix and prints every
// matching broadcast path as it is discovered, until ctx is cancelled.
func runAnnounce(ctx context.Context, cfg *cliConfig, sub *subscriber.Subscriber) error {
	prefix, err := path.New(cfg.prefix)
	if err != nil {
		return fmt.Errorf("invalid -prefix %q: %w", cfg.prefix, err)
	}
	o, err := sub.AnnouncePlease(prefix)
	if err != nil {
		return fmt.Errorf("announce_please %s: %w", cfg.prefix, err)
	}
	next := o.ConsumeOnly(nil).Announced()
	for {
		ev, err := next(ctx)
		if err != nil {
			return nil
		}
		state := "ended"
		if ev.Active {
			state = "active"
		}
		fmt.Printf("%s %s\n", state, ev.Path.String())
	}
}
