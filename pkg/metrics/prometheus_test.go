package metrics

import (
	"bytes"
	"net/http"
	"strings"
	"testing"
	"time"
)

func export(c *Collector, namespace string) string {
	var buf bytes.Buffer
	NewPrometheusExporter(c, namespace).WriteMetrics(&buf)
	return buf.String()
}

func TestPrometheusSeries(t *testing.T) {
	c := NewCollector(Labels{"service": "qauth", "node": "bob"})
	c.SessionStarted()
	c.RecordVerdict(true)
	c.RecordQubits(16, 0)
	c.RecordBytesSent(1000)
	c.RecordLinkAccepted(3 * time.Millisecond)

	out := export(c, "qauth")

	lines := []string{
		`# HELP qauth_sessions_active Number of authentication sessions in progress`,
		`# TYPE qauth_sessions_active gauge`,
		`qauth_sessions_active{node="bob",service="qauth"} 1`,
		`# TYPE qauth_verdicts_accepted_total counter`,
		`qauth_verdicts_accepted_total{node="bob",service="qauth"} 1`,
		`qauth_qubits_sent_total{node="bob",service="qauth"} 16`,
		`qauth_bytes_sent_total{node="bob",service="qauth"} 1000`,
		`# TYPE qauth_handshake_duration_milliseconds histogram`,
		`qauth_handshake_duration_milliseconds_bucket{node="bob",service="qauth",le="2"} 0`,
		`qauth_handshake_duration_milliseconds_bucket{node="bob",service="qauth",le="5"} 1`,
		`qauth_handshake_duration_milliseconds_bucket{node="bob",service="qauth",le="+Inf"} 1`,
		`qauth_handshake_duration_milliseconds_sum{node="bob",service="qauth"} 3`,
		`qauth_handshake_duration_milliseconds_count{node="bob",service="qauth"} 1`,
	}
	for _, want := range lines {
		if !strings.Contains(out, want+"\n") {
			t.Errorf("missing line %q", want)
		}
	}
}

func TestPrometheusEverySeries(t *testing.T) {
	out := export(NewCollector(nil), "quantum")

	for _, name := range []string{
		"sessions_active", "sessions_total", "sessions_failed_total",
		"verdicts_accepted_total", "verdicts_denied_total",
		"desyncs_total", "invalid_keys_total", "channel_errors_total",
		"qubits_sent_total", "qubits_received_total", "classical_messages_total",
		"links_accepted_total", "links_rejected_total", "requests_total",
		"bytes_sent_total", "bytes_received_total",
		"replays_blocked_total", "decrypt_errors_total",
		"uptime_seconds",
		"session_duration_milliseconds", "handshake_duration_milliseconds",
	} {
		if !strings.Contains(out, "# TYPE quantum_"+name+" ") {
			t.Errorf("no TYPE line for quantum_%s", name)
		}
	}
}

func TestPrometheusUnlabelled(t *testing.T) {
	out := export(NewCollector(nil), "test")

	for line := range strings.SplitSeq(out, "\n") {
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.Contains(line, "{") && !strings.Contains(line, "_bucket{le=") {
			t.Errorf("unexpected label set: %s", line)
		}
	}
}

func TestPrometheusLabelEscaping(t *testing.T) {
	out := export(NewCollector(Labels{
		"path":  `C:\qauth`,
		"note":  `say "hi"`,
		"multi": "a\nb",
	}), "test")

	want := `{multi="a\nb",note="say \"hi\"",path="C:\\qauth"}`
	if !strings.Contains(out, "test_sessions_total"+want+" 0\n") {
		t.Errorf("labels not escaped as %s:\n%s", want, out)
	}
}

func TestPrometheusHandler(t *testing.T) {
	c := NewCollector(nil)
	c.RecordRequest()

	w := get(t, NewPrometheusExporter(c, "test").Handler(), "/metrics")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain; version=0.0.4") {
		t.Errorf("content type = %q", ct)
	}
	if !strings.Contains(w.Body.String(), "test_requests_total 1\n") {
		t.Errorf("body missing requests_total:\n%s", w.Body.String())
	}
}
