// Package metrics keeps process-wide counters, gauges and histograms and
// serves them in the Prometheus text exposition format.
package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Collector is the registry every package records into.
var Collector = NewRegistry()

// desc identifies one series: a metric family plus a fixed label set.
type desc struct {
	name   string
	help   string
	labels string // preformatted, e.g. `tool="reply"`
}

func (d desc) id() string { return d.name + "{" + d.labels + "}" }

func (d desc) sample(w io.Writer, suffix, extra, value string) {
	labels := d.labels
	if extra != "" {
		if labels != "" {
			labels += ","
		}
		labels += extra
	}
	if labels == "" {
		fmt.Fprintf(w, "%s%s %s\n", d.name, suffix, value)
		return
	}
	fmt.Fprintf(w, "%s%s{%s} %s\n", d.name, suffix, labels, value)
}

type series interface {
	describe() desc
	kind() string
	write(w io.Writer)
}

// Registry owns a set of series. Asking twice for the same name and labels
// returns the same series.
type Registry struct {
	start time.Time

	mu     sync.Mutex
	series map[string]series
}

func NewRegistry() *Registry {
	return &Registry{start: time.Now(), series: make(map[string]series)}
}

func (r *Registry) Uptime() time.Duration { return time.Since(r.start) }

func (r *Registry) register(d desc, build func() series) series {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.series[d.id()]; ok {
		return s
	}
	s := build()
	r.series[d.id()] = s
	return s
}

// Counter only goes up.
type Counter struct {
	desc
	v atomic.Int64
}

func (c *Counter) Inc()         { c.v.Add(1) }
func (c *Counter) Add(n int64)  { c.v.Add(n) }
func (c *Counter) Value() int64 { return c.v.Load() }

func (c *Counter) describe() desc    { return c.desc }
func (c *Counter) kind() string      { return "counter" }
func (c *Counter) write(w io.Writer) { c.sample(w, "", "", strconv.FormatInt(c.Value(), 10)) }

type Gauge struct {
	desc
	v atomic.Int64
}

func (g *Gauge) Set(n int64)  { g.v.Store(n) }
func (g *Gauge) Inc()         { g.v.Add(1) }
func (g *Gauge) Dec()         { g.v.Add(-1) }
func (g *Gauge) Value() int64 { return g.v.Load() }

func (g *Gauge) describe() desc    { return g.desc }
func (g *Gauge) kind() string      { return "gauge" }
func (g *Gauge) write(w io.Writer) { g.sample(w, "", "", strconv.FormatInt(g.Value(), 10)) }

// Histogram counts observations into fixed upper bounds. The +Inf bucket is
// implicit.
type Histogram struct {
	desc
	bounds []float64

	mu     sync.Mutex
	counts []uint64 // per bound, not cumulative
	total  uint64
	sum    float64
}

func (h *Histogram) Observe(v float64) {
	i := sort.SearchFloat64s(h.bounds, v)
	h.mu.Lock()
	if i < len(h.counts) {
		h.counts[i]++
	}
	h.total++
	h.sum += v
	h.mu.Unlock()
}

func (h *Histogram) describe() desc { return h.desc }
func (h *Histogram) kind() string   { return "histogram" }

func (h *Histogram) write(w io.Writer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var cum uint64
	for i, le := range h.bounds {
		cum += h.counts[i]
		h.sample(w, "_bucket", `le="`+strconv.FormatFloat(le, 'g', -1, 64)+`"`, strconv.FormatUint(cum, 10))
	}
	h.sample(w, "_bucket", `le="+Inf"`, strconv.FormatUint(h.total, 10))
	h.sample(w, "_sum", "", strconv.FormatFloat(h.sum, 'f', -1, 64))
	h.sample(w, "_count", "", strconv.FormatUint(h.total, 10))
}

func (r *Registry) Counter(name, help, labels string) *Counter {
	d := desc{name: name, help: help, labels: labels}
	return r.register(d, func() series { return &Counter{desc: d} }).(*Counter)
}

func (r *Registry) Gauge(name, help, labels string) *Gauge {
	d := desc{name: name, help: help, labels: labels}
	return r.register(d, func() series { return &Gauge{desc: d} }).(*Gauge)
}

// Histogram registers a histogram over the given upper bounds.
func (r *Registry) Histogram(name, help, labels string, bounds []float64) *Histogram {
	d := desc{name: name, help: help, labels: labels}
	return r.register(d, func() series {
		b := append([]float64(nil), bounds...)
		sort.Float64s(b)
		return &Histogram{desc: d, bounds: b, counts: make([]uint64, len(b))}
	}).(*Histogram)
}

// WriteTo renders every series grouped by family, families sorted by name.
func (r *Registry) WriteTo(w io.Writer) {
	fmt.Fprintf(w, "# HELP relaybot_uptime_seconds Seconds since the process started\n")
	fmt.Fprintf(w, "# TYPE relaybot_uptime_seconds gauge\n")
	fmt.Fprintf(w, "relaybot_uptime_seconds %d\n", int64(r.Uptime().Seconds()))

	r.mu.Lock()
	all := make([]series, 0, len(r.series))
	for _, s := range r.series {
		all = append(all, s)
	}
	r.mu.Unlock()
	sort.Slice(all, func(i, j int) bool { return all[i].describe().id() < all[j].describe().id() })

	last := ""
	for _, s := range all {
		d := s.describe()
		if d.name != last {
			fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s %s\n", d.name, d.help, d.name, s.kind())
			last = d.name
		}
		s.write(w)
	}
}

func (r *Registry) Render() string {
	var sb strings.Builder
	r.WriteTo(&sb)
	return sb.String()
}

func (r *Registry) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		r.WriteTo(w)
	}
}

var (
	EventsReceived = Collector.Counter("relaybot_events_received_total", "Inbound workspace events accepted at ingress", "")
	EventsDropped  = Collector.Counter("relaybot_events_dropped_total", "Inbound payloads dropped at ingress", "")
	MessagesTotal  = Collector.Counter("relaybot_messages_total", "Messages that reached the pipeline", "")
	RateLimited    = Collector.Counter("relaybot_rate_limited_total", "Messages rejected by the sliding window", "")
	AccessDenied   = Collector.Counter("relaybot_access_denied_total", "Triggering messages from users outside the opt-in channel", "")
	QuotaExhausted = Collector.Counter("relaybot_quota_exhausted_total", "Idle messages seen after the quota ran out", "")
	Triggered      = Collector.Counter("relaybot_triggered_total", "Messages that started an agent run", "")
	AgentErrors    = Collector.Counter("relaybot_agent_errors_total", "Agent runs that ended in an error", "")

	LLMRequestsTotal = Collector.Counter("relaybot_llm_requests_total", "Oracle requests", "")
	ToolExecutions   = Collector.Counter("relaybot_tool_executions_total", "Tool invocations", "")
	ToolFailures     = Collector.Counter("relaybot_tool_failures_total", "Tool invocations that reported failure", "")

	ActiveRuns   = Collector.Gauge("relaybot_active_runs", "Agent runs in progress", "")
	AllowedUsers = Collector.Gauge("relaybot_allowed_users", "Users in the opt-in allow-list", "")

	LLMLatency  = Collector.Histogram("relaybot_llm_latency_seconds", "Oracle request latency", "", []float64{0.5, 1, 2, 5, 10, 30, 60, 120})
	ToolLatency = Collector.Histogram("relaybot_tool_latency_seconds", "Tool execution latency", "", []float64{0.1, 0.5, 1, 5, 10, 30})
	RunSteps    = Collector.Histogram("relaybot_agent_run_steps", "Tool steps per agent run", "", []float64{1, 2, 3, 5, 10, 25})
)
