// Command moq-server runs a MoQ origin server: it accepts QUIC
// connections (it has no WebSocket listener), negotiates a session per spec.md
// §4.10, and serves SUBSCRIBE/ANNOUNCE_PLEASE requests against a single
// shared in-process Origin. Grounded on
// alxayo-rtmp-go/cmd/rtmp-server/main.go's flag-parse → log-init →
// listen → accept-loop → signal-driven graceful-shutdown shape.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/quic-go/quic-go"

	"github.com/alxayo/go-moq/internal/auth"
	"github.com/alxayo/go-moq/internal/logger"
	"github.com/alxayo/go-moq/internal/moq/control"
	"github.com/alxayo/go-moq/internal/moq/origin"
	"github.com/alxayo/go-moq/internal/moq/publisher"
	"github.com/alxayo/go-moq/internal/moq/session"
	"github.com/alxayo/go-moq/internal/moq/subscriber"
	"github.com/alxayo/go-moq/internal/moq/transport"
	"github.com/alxayo/go-moq/internal/moqhttp"
	"github.com/alxayo/go-moq/internal/moqmetrics"
)

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
	log := logger.Logger().With("component", "moq-server")

	tlsConf, err := loadTLSConfig(cfg.certPath, cfg.keyPath, cfg.selfSign, cfg.alpns)
	if err != nil {
		log.Error("tls configuration failed", "error", err)
		os.Exit(1)
	}

	o := origin.New()

	reg := prometheus.NewRegistry()
	metrics := moqmetrics.New(reg)

	var verifier *auth.Verifier
	if cfg.keySetFile != "" {
		keyBytes, err := os.ReadFile(cfg.keySetFile)
		if err != nil {
			log.Error("failed to read jwt keyset", "error", err)
			os.Exit(1)
		}
		verifier, err = auth.NewVerifier(keyBytes)
		if err != nil {
			log.Error("failed to derive auth key", "error", err)
			os.Exit(1)
		}
	}

	listener, err := quic.ListenAddr(cfg.listenAddr, tlsConf, &quic.Config{})
	if err != nil {
		log.Error("failed to bind quic listener", "error", err)
		os.Exit(1)
	}
	log.Info("moq-server listening", "addr", listener.Addr().String(), "version", version)

	var httpSrv *moqhttp.Server
	if cfg.httpListenAddr != "" {
		certHash := ""
		if len(tlsConf.Certificates) > 0 && len(tlsConf.Certificates[0].Certificate) > 0 {
			certHash = moqhttp.CertFingerprint(tlsConf.Certificates[0].Certificate[0])
		}
		httpSrv = moqhttp.New(moqhttp.Config{
			ListenAddr:     cfg.httpListenAddr,
			CertSHA256:     certHash,
			FetchRateLimit: cfg.fetchRateLimit,
		}, o)
		if err := httpSrv.Start(); err != nil {
			log.Error("failed to start http companion", "error", err)
			os.Exit(1)
		}
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	metricsSrv := &http.Server{Addr: ":9090", Handler: metricsMux}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn("metrics server stopped", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	go acceptLoop(ctx, listener, cfg, o, metrics, verifier, log, &wg)

	<-ctx.Done()
	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	listener.Close()
	if httpSrv != nil {
		httpSrv.Stop(shutdownCtx)
	}
	metricsSrv.Shutdown(shutdownCtx)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Info("server stopped cleanly")
	case <-shutdownCtx.Done():
		log.Error("forced exit after timeout")
	}
}

func acceptLoop(ctx context.Context, listener *quic.Listener, cfg *cliConfig, o *origin.Origin, metrics *moqmetrics.Metrics, verifier *auth.Verifier, log *slog.Logger, wg *sync.WaitGroup) {
	for {
		conn, err := listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn("accept failed", "error", err)
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			serveConnection(ctx, conn, cfg, o, metrics, verifier)
		}()
	}
}

func serveConnection(ctx context.Context, conn *quic.Conn, cfg *cliConfig, o *origin.Origin, metrics *moqmetrics.Metrics, verifier *auth.Verifier) {
	log := logger.Logger()
	sessionID := conn.RemoteAddr().String()

	sess, err := session.HandshakeServer(ctx, transport.NewQUICSession(conn), cfg.versions, sessionID)
	if err != nil {
		log.Warn("session handshake failed", "peer", sessionID, "error", err)
		return
	}
	metrics.SessionStarted()
	defer metrics.SessionEnded()

	scoped := o.ConsumeOnly(nil)
	_ = verifier // loaded but unused: no token is read from the peer, so every session gets the unscoped origin

	var writeMu sync.Mutex
	pub := publisher.New(sess.Transport(), sess.Control(), &writeMu, scoped, sess.Log())
	sub := subscriber.New(sess.Transport(), sess.Control(), &writeMu, 1<<20, sess.Log())

	go sub.AcceptGroups(ctx)

	for {
		kind, payload, err := control.ReadMessage(sess.Control())
		if err != nil {
			sess.Close(err)
			return
		}
		switch {
		case isPublisherKind(kind):
			pub.HandleMessage(ctx, kind, payload)
		default:
			sub.HandleMessage(kind, payload)
		}
	}
}

func isPublisherKind(k control.Kind) bool {
	switch k {
	case control.KindAnnouncePlease, control.KindSubscribe, control.KindUnsubscribe, control.KindFetch, control.KindProbe:
		return true
	default:
		return false
	}
}
