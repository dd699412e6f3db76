package obs

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                          "/",
		"/":                         "/",
		"/metrics":                  "/metrics",
		"/v1/panels/keywords":       "/v1/panels/keywords",
		"/v1/panels/keywords?x=1":   "/v1/panels/keywords",
		"/assets/app.js":            "/assets/*",
		"/wp-login.php":             "other",
		"/v1/panels/keywords/extra": "other",
		"/auth/callback?code=abc":   "/auth/callback",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}

func TestInstrumentCountsRequests(t *testing.T) {
	h := Instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/v1/me", "418"))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/me", nil))

	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/v1/me", "418"))
	if after-before != 1 {
		t.Fatalf("expected counter to increase by 1, got %v", after-before)
	}
}

func TestRecordGateDecisionDefaultsReason(t *testing.T) {
	before := testutil.ToFloat64(gateDecisions.WithLabelValues("unauthenticated", "none"))
	RecordGateDecision("unauthenticated", "")
	after := testutil.ToFloat64(gateDecisions.WithLabelValues("unauthenticated", "none"))
	if after-before != 1 {
		t.Fatalf("expected gate counter to increase by 1, got %v", after-before)
	}
}

func TestReadBuildInfoDefaults(t *testing.T) {
	info := ReadBuildInfo("", "0123456789abcdef")
	if info.Version != "dev" {
		t.Fatalf("unexpected version %q", info.Version)
	}
	if info.Commit != "0123456789ab" {
		t.Fatalf("expected commit trimmed to 12 chars, got %q", info.Commit)
	}
	if info.GoVersion == "" {
		t.Fatal("expected go version from the test binary")
	}
}

func TestInitBuildInfoPublishesGauge(t *testing.T) {
	info := InitBuildInfo("1.2.3", "abc")
	got := testutil.ToFloat64(buildInfo.WithLabelValues("1.2.3", "abc", info.GoVersion))
	if got != 1 {
		t.Fatalf("expected build info gauge 1, got %v", got)
	}
}
