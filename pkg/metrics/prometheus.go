package metrics

import (
	"bufio"
	"io"
	"maps"
	"math"
	"net/http"
	"slices"
	"strconv"
	"strings"
)

// series describes one scalar in the Prometheus text output.
type series struct {
	name  string
	help  string
	gauge bool
	value func(*Snapshot) float64
}

func count(f func(*Snapshot) uint64) func(*Snapshot) float64 {
	return func(s *Snapshot) float64 { return float64(f(s)) }
}

var scalarSeries = []series{
	{"sessions_active", "Number of authentication sessions in progress", true, count(func(s *Snapshot) uint64 { return s.SessionsActive })},
	{"sessions_total", "Total authentication sessions started", false, count(func(s *Snapshot) uint64 { return s.SessionsTotal })},
	{"sessions_failed_total", "Total sessions that ended with an error", false, count(func(s *Snapshot) uint64 { return s.SessionsFailed })},
	{"verdicts_accepted_total", "Total sessions whose verdict granted authentication", false, count(func(s *Snapshot) uint64 { return s.VerdictsAccepted })},
	{"verdicts_denied_total", "Total sessions whose verdict denied authentication", false, count(func(s *Snapshot) uint64 { return s.VerdictsDenied })},
	{"desyncs_total", "Total channel desynchronizations", false, count(func(s *Snapshot) uint64 { return s.Desyncs })},
	{"invalid_keys_total", "Total keys rejected before channel I/O", false, count(func(s *Snapshot) uint64 { return s.InvalidKeys })},
	{"channel_errors_total", "Total quantum channel provider errors", false, count(func(s *Snapshot) uint64 { return s.ChannelErrors })},
	{"qubits_sent_total", "Total qubits sent by sessions", false, count(func(s *Snapshot) uint64 { return s.QubitsSent })},
	{"qubits_received_total", "Total qubits received by sessions", false, count(func(s *Snapshot) uint64 { return s.QubitsReceived })},
	{"classical_messages_total", "Total classical messages exchanged by sessions", false, count(func(s *Snapshot) uint64 { return s.ClassicalMessages })},
	{"links_accepted_total", "Total backend links established", false, count(func(s *Snapshot) uint64 { return s.LinksAccepted })},
	{"links_rejected_total", "Total backend connections rejected", false, count(func(s *Snapshot) uint64 { return s.LinksRejected })},
	{"requests_total", "Total backend requests served", false, count(func(s *Snapshot) uint64 { return s.RequestsServed })},
	{"bytes_sent_total", "Total link bytes sent", false, count(func(s *Snapshot) uint64 { return s.BytesSent })},
	{"bytes_received_total", "Total link bytes received", false, count(func(s *Snapshot) uint64 { return s.BytesReceived })},
	{"replays_blocked_total", "Total link records rejected as replayed or reordered", false, count(func(s *Snapshot) uint64 { return s.ReplaysBlocked })},
	{"decrypt_errors_total", "Total link records that failed authentication", false, count(func(s *Snapshot) uint64 { return s.DecryptErrors })},
	{"uptime_seconds", "Time since the collector was created", true, func(s *Snapshot) float64 { return s.Uptime.Seconds() }},
}

// PrometheusExporter renders a Collector in the Prometheus text exposition
// format, version 0.0.4.
type PrometheusExporter struct {
	collector *Collector
	namespace string
}

// NewPrometheusExporter prefixes every series with namespace and an
// underscore.
func NewPrometheusExporter(c *Collector, namespace string) *PrometheusExporter {
	return &PrometheusExporter{collector: c, namespace: namespace}
}

func (e *PrometheusExporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		e.WriteMetrics(w)
	})
}

// WriteMetrics writes one snapshot of the collector to w.
func (e *PrometheusExporter) WriteMetrics(w io.Writer) {
	snap := e.collector.Snapshot()
	labels := promLabels(snap.Labels)

	bw := bufio.NewWriter(w)
	defer bw.Flush()

	for _, s := range scalarSeries {
		typ := "counter"
		if s.gauge {
			typ = "gauge"
		}
		name := e.namespace + "_" + s.name
		e.header(bw, name, s.help, typ)
		writeSample(bw, name, labels, "", formatFloat(s.value(&snap)))
	}

	e.histogram(bw, "session_duration_milliseconds", "Authentication session duration in milliseconds", labels, snap.SessionLatency)
	e.histogram(bw, "handshake_duration_milliseconds", "Link handshake duration in milliseconds", labels, snap.HandshakeLatency)
}

func (e *PrometheusExporter) header(w *bufio.Writer, name, help, typ string) {
	w.WriteString("# HELP " + name + " " + help + "\n")
	w.WriteString("# TYPE " + name + " " + typ + "\n")
}

func (e *PrometheusExporter) histogram(w *bufio.Writer, suffix, help, labels string, h HistogramSummary) {
	name := e.namespace + "_" + suffix
	e.header(w, name, help, "histogram")
	for _, b := range h.Buckets {
		le := "+Inf"
		if !math.IsInf(b.UpperBound, 1) {
			le = formatFloat(b.UpperBound)
		}
		writeSample(w, name+"_bucket", labels, `le="`+le+`"`, strconv.FormatUint(b.Count, 10))
	}
	writeSample(w, name+"_sum", labels, "", formatFloat(h.Sum))
	writeSample(w, name+"_count", labels, "", strconv.FormatUint(h.Count, 10))
}

// writeSample writes `name{labels,extra} value`, omitting the braces when
// both label strings are empty.
func writeSample(w *bufio.Writer, name, labels, extra, value string) {
	w.WriteString(name)
	switch {
	case labels != "" && extra != "":
		w.WriteString("{" + labels + "," + extra + "}")
	case labels != "" || extra != "":
		w.WriteString("{" + labels + extra + "}")
	}
	w.WriteString(" " + value + "\n")
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// promLabels renders labels sorted by key with escaped values.
func promLabels(labels Labels) string {
	parts := make([]string, 0, len(labels))
	for _, k := range slices.Sorted(maps.Keys(labels)) {
		parts = append(parts, k+`="`+labelEscaper.Replace(labels[k])+`"`)
	}
	return strings.Join(parts, ",")
}

var labelEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)
