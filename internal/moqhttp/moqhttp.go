// Package moqhttp implements the optional HTTP side channel (spec.md
// §6.3): a plain net/http surface next to the QUIC/WebSocket transports,
// for callers who just want the TLS certificate fingerprint, a snapshot
// of announced broadcasts, or a one-shot fetch of a frame or group
// without running the control protocol at all.
//
// Grounded on alxayo-rtmp-go/internal/rtmp/server/server.go's
// Config/applyDefaults/New/Start/Stop shape, translated from a raw TCP
// listener into an http.Server; per-peer rate limiting on /fetch uses
// golang.org/x/time/rate the way snapetech-plexTuner's tuner scheduler
// uses it for its own throughput caps.
package moqhttp

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/alxayo/go-moq/internal/logger"
	"github.com/alxayo/go-moq/internal/moq/model"
	"github.com/alxayo/go-moq/internal/moq/origin"
	"github.com/alxayo/go-moq/internal/moq/path"
	"github.com/alxayo/go-moq/internal/moqerrors"
)

// Config holds the HTTP companion's configuration knobs.
type Config struct {
	ListenAddr string
	// CertSHA256 is the pre-computed hex fingerprint served at
	// /certificate.sha256; computed once at startup from the server's TLS
	// certificate and passed in rather than recomputed per request.
	CertSHA256 string
	// FetchRateLimit bounds /fetch requests per peer IP per second; zero
	// selects the default of 50, and a negative value disables limiting.
	FetchRateLimit float64
	FetchBurst     int
}

func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":4443"
	}
	if c.FetchRateLimit == 0 {
		c.FetchRateLimit = 50
	}
	if c.FetchBurst == 0 {
		c.FetchBurst = 10
	}
}

// CertFingerprint returns the hex-encoded SHA-256 digest of a DER
// certificate, the form served at GET /certificate.sha256.
func CertFingerprint(der []byte) string {
	sum := sha256.Sum256(der)
	return hex.EncodeToString(sum[:])
}

// Server serves the HTTP companion endpoints over an origin's current
// state.
type Server struct {
	cfg    Config
	origin *origin.Origin
	log    *slog.Logger

	httpSrv *http.Server

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New creates a Server for origin's namespace. origin must outlive the
// server.
func New(cfg Config, o *origin.Origin) *Server {
	cfg.applyDefaults()
	s := &Server{
		cfg:      cfg,
		origin:   o,
		log:      logger.Logger().With("component", "moqhttp"),
		limiters: map[string]*rate.Limiter{},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/certificate.sha256", s.handleCertificate)
	mux.HandleFunc("/announced", s.handleAnnounced)
	mux.HandleFunc("/announced/", s.handleAnnounced)
	mux.HandleFunc("/fetch/", s.handleFetch)
	s.httpSrv = &http.Server{Addr: cfg.ListenAddr, Handler: mux}
	return s
}

// Start begins serving in a background goroutine. Safe to call once.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.ListenAddr, err)
	}
	s.log.Info("moq http companion listening", "addr", ln.Addr().String())
	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http companion serve failed", "error", err)
		}
	}()
	return nil
}

// Stop gracefully shuts the HTTP companion down.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleCertificate(w http.ResponseWriter, r *http.Request) {
	if s.cfg.CertSHA256 == "" {
		http.Error(w, "no certificate configured", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, s.cfg.CertSHA256)
}

func (s *Server) handleAnnounced(w http.ResponseWriter, r *http.Request) {
	prefixStr := strings.TrimPrefix(r.URL.Path, "/announced")
	prefixStr = strings.TrimPrefix(prefixStr, "/")
	prefix, err := path.New(prefixStr)
	if err != nil {
		http.Error(w, "invalid prefix", http.StatusBadRequest)
		return
	}
	paths := s.origin.ListAnnounced(prefix)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	for _, p := range paths {
		io.WriteString(w, p.String())
		io.WriteString(w, "\n")
	}
}

func (s *Server) limiterFor(peer string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[peer]
	if !ok {
		l = rate.NewLimiter(rate.Limit(s.cfg.FetchRateLimit), s.cfg.FetchBurst)
		s.limiters[peer] = l
	}
	return l
}

// handleFetch serves GET /fetch/<broadcast>/<track>?group=<n|latest>&frame=<n|chunked>
// (spec.md §6.3).
func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if s.cfg.FetchRateLimit > 0 && !s.limiterFor(host).Allow() {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/fetch/")
	broadcastStr, track, ok := splitBroadcastTrack(rest)
	if !ok {
		http.Error(w, "expected /fetch/<broadcast>/<track>", http.StatusBadRequest)
		return
	}
	broadcastPath, err := path.New(broadcastStr)
	if err != nil {
		http.Error(w, "invalid broadcast path", http.StatusBadRequest)
		return
	}

	consumer, ok := s.origin.ConsumeBroadcast(broadcastPath)
	if !ok {
		http.Error(w, "broadcast not found", http.StatusNotFound)
		return
	}
	tc := consumer.SubscribeTrack(track, 0)
	defer tc.Release()

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	groupParam := r.URL.Query().Get("group")
	group, found, err := resolveGroup(ctx, tc, groupParam)
	if err != nil {
		writeFetchError(w, err)
		return
	}
	if !found {
		http.Error(w, "group not found", http.StatusNotFound)
		return
	}

	frameParam := r.URL.Query().Get("frame")
	if frameParam == "chunked" || frameParam == "" {
		serveGroupChunked(ctx, w, group)
		return
	}
	idx, err := strconv.Atoi(frameParam)
	if err != nil || idx < 0 {
		http.Error(w, "invalid frame index", http.StatusBadRequest)
		return
	}
	serveSingleFrame(ctx, w, group, idx)
}

func splitBroadcastTrack(rest string) (broadcast, track string, ok bool) {
	i := strings.LastIndex(rest, "/")
	if i < 0 {
		return "", "", false
	}
	return rest[:i], rest[i+1:], true
}

func writeFetchError(w http.ResponseWriter, err error) {
	if k, ok := moqerrors.KindOf(err); ok && k == moqerrors.KindCancel {
		http.Error(w, "timeout", http.StatusGatewayTimeout)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

// resolveGroup looks up the group named by the group=<n|latest> query
// parameter. "" defaults to "latest".
func resolveGroup(ctx context.Context, tc *model.TrackConsumer, groupParam string) (*model.GroupConsumer, bool, error) {
	if groupParam == "" || groupParam == "latest" {
		gc, ok := tc.LatestGroup(ctx)
		return gc, ok, nil
	}
	seq, err := strconv.ParseUint(groupParam, 10, 64)
	if err != nil {
		return nil, false, moqerrors.New("moqhttp.resolve_group", moqerrors.KindDecode, err)
	}
	return tc.GetGroup(ctx, seq)
}

// serveGroupChunked streams every frame in group to w using HTTP chunked
// transfer encoding (spec.md §6.3: "bytes of ... group (as chunked
// transfer)"), one flush per frame.
func serveGroupChunked(ctx context.Context, w http.ResponseWriter, group *model.GroupConsumer) {
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Transfer-Encoding", "chunked")
	flusher, _ := w.(http.Flusher)
	for {
		fc, err := group.NextFrame(ctx)
		if err != nil {
			return
		}
		if fc == nil {
			return
		}
		data, err := fc.ReadAll(ctx)
		if err != nil {
			return
		}
		if _, err := w.Write(data); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

// serveSingleFrame writes the bytes of the group's idx-th frame (0-based).
func serveSingleFrame(ctx context.Context, w http.ResponseWriter, group *model.GroupConsumer, idx int) {
	for i := 0; ; i++ {
		fc, err := group.NextFrame(ctx)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if fc == nil {
			http.Error(w, "frame index out of range", http.StatusNotFound)
			return
		}
		if i != idx {
			continue
		}
		data, err := fc.ReadAll(ctx)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(data)
		return
	}
}
