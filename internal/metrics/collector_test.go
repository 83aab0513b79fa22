package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRegistry_ReusesSeries(t *testing.T) {
	r := NewRegistry()
	a := r.Counter("x_total", "x", "")
	b := r.Counter("x_total", "x", "")
	if a != b {
		t.Fatal("same name and labels should return the same counter")
	}
	if r.Counter("x_total", "x", `kind="y"`) == a {
		t.Fatal("different labels should return a different counter")
	}
}

func TestRegistry_WriteText(t *testing.T) {
	r := NewRegistry()
	r.Counter("b_total", "b help", "").Add(3)
	r.Counter("a_total", "a help", `platform="discord"`).Inc()
	r.Gauge("in_flight", "g help", "").Set(2)
	h := r.Histogram("lat_seconds", "h help", "", []float64{1, 0.1})
	h.Observe(0.05)
	h.Observe(0.5)
	h.Observe(3)

	var sb strings.Builder
	if err := r.WriteText(&sb); err != nil {
		t.Fatal(err)
	}
	out := sb.String()

	for _, want := range []string{
		"# TYPE b_total counter\nb_total 3\n",
		`a_total{platform="discord"} 1`,
		"in_flight 2\n",
		`lat_seconds_bucket{le="0.1"} 1`,
		`lat_seconds_bucket{le="1"} 2`,
		`lat_seconds_bucket{le="+Inf"} 3`,
		"lat_seconds_count 3\n",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "a_total") > strings.Index(out, "b_total") {
		t.Fatal("counters should be sorted by name")
	}
}

func TestRegistry_Handler(t *testing.T) {
	r := NewRegistry()
	r.Counter("hits_total", "hits", "").Inc()

	rec := httptest.NewRecorder()
	r.Handler()(rec, httptest.NewRequest("GET", "/metrics", nil))
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("unexpected content type %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "hits_total 1") {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}
}
