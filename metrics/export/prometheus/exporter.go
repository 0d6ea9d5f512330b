package prometheus

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/thisjowi/keyward"
	"github.com/thisjowi/keyward/metrics/export/internaldefs"
)

// Source supplies metric snapshots. *keyward.Engine implements it.
type Source interface {
	MetricsSnapshot() keyward.MetricsSnapshot
	AuditDropped() uint64
}

// Exporter renders a Source in Prometheus text format.
type Exporter struct {
	source Source
}

// New returns an Exporter reading from source.
func New(source Source) *Exporter {
	return &Exporter{source: source}
}

// Handler serves the current metrics.
func (p *Exporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write([]byte(p.Render()))
	})
}

// Render returns the exposition text. It is empty when metrics are disabled
// and nothing was dropped.
func (p *Exporter) Render() string {
	if p == nil || p.source == nil {
		return ""
	}

	snapshot := p.source.MetricsSnapshot()
	dropped := p.source.AuditDropped()
	if len(snapshot.Counters) == 0 && len(snapshot.Histograms) == 0 && dropped == 0 {
		return ""
	}

	var b strings.Builder
	b.Grow(4096)
	for _, def := range internaldefs.Counters {
		writeCounter(&b, def, snapshot.Counters[def.ID])
	}
	for _, def := range internaldefs.Histograms {
		writeHistogram(&b, def, internaldefs.Cumulative(snapshot.Histograms[def.ID]))
	}
	writeCounter(&b, internaldefs.AuditDropped, dropped)
	return b.String()
}

func writeHeader(b *strings.Builder, def internaldefs.Def, kind string) {
	b.WriteString("# HELP " + def.Name + " " + escapeHelp(def.Help) + "\n")
	b.WriteString("# TYPE " + def.Name + " " + kind + "\n")
}

func writeCounter(b *strings.Builder, def internaldefs.Def, value uint64) {
	writeHeader(b, def, "counter")
	b.WriteString(def.Name + " " + strconv.FormatUint(value, 10) + "\n")
}

func writeHistogram(b *strings.Builder, def internaldefs.Def, cumulative [internaldefs.BucketCount]uint64) {
	writeHeader(b, def, "histogram")
	for i, le := range internaldefs.Bounds {
		b.WriteString(def.Name + `_bucket{le="` + le + `"} ` + strconv.FormatUint(cumulative[i], 10) + "\n")
	}
	b.WriteString(def.Name + "_count " + strconv.FormatUint(cumulative[internaldefs.BucketCount-1], 10) + "\n")
	// Snapshots carry no sum.
	b.WriteString(def.Name + "_sum 0\n")
}

func escapeHelp(help string) string {
	return strings.NewReplacer(`\`, `\\`, "\n", `\n`).Replace(help)
}
