package obs

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	dto "github.com/prometheus/client_model/go"
)

// value returns the counter or gauge sample of the named family whose labels
// match want exactly.
func value(t *testing.T, m *Metrics, name string, want map[string]string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, metric := range f.GetMetric() {
			if !labelsMatch(metric.GetLabel(), want) {
				continue
			}
			if c := metric.GetCounter(); c != nil {
				return c.GetValue()
			}
			return metric.GetGauge().GetValue()
		}
	}
	return 0
}

func labelsMatch(pairs []*dto.LabelPair, want map[string]string) bool {
	if len(pairs) != len(want) {
		return false
	}
	for _, p := range pairs {
		if want[p.GetName()] != p.GetValue() {
			return false
		}
	}
	return true
}

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                       "/",
		"/":                      "/",
		"/metrics":               "/metrics",
		"/api/verify-code":       "/api/verify-code",
		"/api/send-announcement": "/api/send-announcement",
		"/wp-login.php":          "other",
		"/api/verify-code/extra": "other",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}

func TestInstrument_CountsByStatus(t *testing.T) {
	m := New()
	h := m.Instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	for i := 0; i < 3; i++ {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/test", nil))
	}

	got := value(t, m, "bulletin_http_requests_total", map[string]string{"method": "GET", "path": "/api/test", "status": "418"})
	if got != 3 {
		t.Fatalf("expected 3 requests counted, got %v", got)
	}
	if v := value(t, m, "bulletin_http_in_flight_requests", nil); v != 0 {
		t.Fatalf("expected in-flight gauge back at 0, got %v", v)
	}
}

func TestDomainCounters(t *testing.T) {
	m := New()
	m.CodeIssued()
	m.Verification("granted")
	m.Verification("expired")
	m.Verification("expired")
	m.AnnouncementPublished("alert")
	m.NotifyFailed("issue")
	m.CodesPruned(0)
	m.CodesPruned(4)

	if v := value(t, m, "bulletin_codes_issued_total", nil); v != 1 {
		t.Errorf("codes issued: %v", v)
	}
	if v := value(t, m, "bulletin_verifications_total", map[string]string{"reason": "expired"}); v != 2 {
		t.Errorf("expired verifications: %v", v)
	}
	if v := value(t, m, "bulletin_codes_pruned_total", nil); v != 4 {
		t.Errorf("codes pruned: %v", v)
	}
}

func TestHandler_ExposesRegistry(t *testing.T) {
	m := New()
	m.SetBuildInfo("test")
	m.CodeIssued()

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	for _, want := range []string{"bulletin_codes_issued_total 1", `bulletin_build_info{version="test"} 1`} {
		if !strings.Contains(string(body), want) {
			t.Errorf("expected %q in exposition", want)
		}
	}
}

func TestNew_TwiceDoesNotPanic(t *testing.T) {
	_ = New()
	_ = New()
}
