package moqhttp

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alxayo/go-moq/internal/moq/model"
	"github.com/alxayo/go-moq/internal/moq/origin"
	"github.com/alxayo/go-moq/internal/moq/path"
)

func newTestOrigin(t *testing.T) *origin.Origin {
	t.Helper()
	o := origin.New()
	bp, bc := model.NewBroadcast()
	tp := bp.Publish("video", 1)

	gp := tp.AppendGroup()
	f := gp.CreateFrame(0, true, 5)
	f.WriteChunk([]byte("hello"))
	f.Close()
	gp.Close()

	o.PublishBroadcast(path.MustNew("rooms/1"), bc)
	return o
}

func TestCertFingerprintEndpoint(t *testing.T) {
	o := newTestOrigin(t)
	srv := New(Config{CertSHA256: "deadbeef"}, o)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/certificate.sha256", nil)
	srv.httpSrv.Handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if rr.Body.String() != "deadbeef" {
		t.Fatalf("body = %q", rr.Body.String())
	}
}

func TestAnnouncedEndpointListsPublishedPaths(t *testing.T) {
	o := newTestOrigin(t)
	srv := New(Config{}, o)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/announced", nil)
	srv.httpSrv.Handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	lines := strings.Fields(rr.Body.String())
	if len(lines) != 1 || lines[0] != "rooms/1" {
		t.Fatalf("got %q", rr.Body.String())
	}
}

func TestFetchLatestGroupChunked(t *testing.T) {
	o := newTestOrigin(t)
	srv := New(Config{}, o)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/fetch/rooms/1/video?group=latest&frame=chunked", nil)
	srv.httpSrv.Handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	body, err := io.ReadAll(rr.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(body) != "hello" {
		t.Fatalf("got %q", body)
	}
}

func TestFetchSingleFrameByIndex(t *testing.T) {
	o := newTestOrigin(t)
	srv := New(Config{}, o)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/fetch/rooms/1/video?group=0&frame=0", nil)
	srv.httpSrv.Handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if rr.Body.String() != "hello" {
		t.Fatalf("got %q", rr.Body.String())
	}
}

func TestFetchUnknownBroadcastReturnsNotFound(t *testing.T) {
	o := newTestOrigin(t)
	srv := New(Config{}, o)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/fetch/rooms/nope/video?group=latest", nil)
	srv.httpSrv.Handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rr.Code)
	}
}
