package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorder_CountsDecisions(t *testing.T) {
	r := NewRecorder()
	r.Decision("Allow", "")
	r.Decision("Deny", "authentication")
	r.Decision("Deny", "authentication")

	if got := testutil.ToFloat64(r.decisions.WithLabelValues("Deny", "authentication")); got != 2 {
		t.Errorf("expected 2 deny decisions, got %v", got)
	}
	if got := testutil.ToFloat64(r.decisions.WithLabelValues("Allow", "")); got != 1 {
		t.Errorf("expected 1 allow decision, got %v", got)
	}
}

func TestRecorder_NilIsSafe(t *testing.T) {
	var r *Recorder
	r.Decision("Allow", "")
	r.JWKSFetch("upstream", "ok")
	r.ObserveAuthorize("http", 0.1)
}

func TestRecorder_Handler(t *testing.T) {
	r := NewRecorder()
	r.JWKSFetch("upstream", "ok")

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if !strings.Contains(string(body), `authorizer_jwks_fetches_total{result="ok",source="upstream"} 1`) {
		t.Errorf("expected jwks fetch counter in exposition, got:\n%s", body)
	}
}
