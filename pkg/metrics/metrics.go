package metrics

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

type Registry struct {
	mu                  sync.RWMutex
	endpoint            map[string]*EndpointStat
	verdict             map[string]int64
	reason              map[string]int64
	gauges              map[string]float64
	verdictReason       map[string]int64
	crisisTrigger       map[string]int64
	deliveryState       map[string]int64
	adapterTranslations int64
	validateLatency     ValidateLatencyStat
	Histograms          *HistogramRegistry
}

type EndpointStat struct {
	Count          int64   `json:"count"`
	ErrorCount     int64   `json:"error_count"`
	TotalMillis    int64   `json:"total_millis"`
	MaxMillis      int64   `json:"max_millis"`
	AverageMillis  float64 `json:"average_millis"`
	LastStatusCode int     `json:"last_status_code"`
}

type ValidateLatencyStat struct {
	Count   int64   `json:"count"`
	TotalMS int64   `json:"total_ms"`
	MaxMS   int64   `json:"max_ms"`
	LastMS  int64   `json:"last_ms"`
	AvgMS   float64 `json:"avg_ms"`
}

type Snapshot struct {
	GeneratedAt              string                  `json:"generated_at"`
	Endpoints                map[string]EndpointStat `json:"endpoints"`
	Verdicts                 map[string]int64        `json:"verdicts"`
	Reasons                  map[string]int64        `json:"reasons"`
	Gauges                   map[string]float64      `json:"gauges"`
	VerdictReason            map[string]int64        `json:"verdict_reason"`
	CrisisTotals             map[string]int64        `json:"crisis_totals"`
	DeliveryTotals           map[string]int64        `json:"delivery_totals"`
	AdapterTranslationsTotal int64                   `json:"adapter_translations_total"`
	ValidateLatencyMS        ValidateLatencyStat     `json:"validate_latency_ms"`
	Histograms               []HistogramSnapshot     `json:"histograms,omitempty"`
}

func NewRegistry() *Registry {
	return &Registry{
		endpoint:      map[string]*EndpointStat{},
		verdict:       map[string]int64{},
		reason:        map[string]int64{},
		gauges:        map[string]float64{},
		verdictReason: map[string]int64{},
		crisisTrigger: map[string]int64{},
		deliveryState: map[string]int64{},
		Histograms:    NewHistogramRegistry(),
	}
}

func (r *Registry) ObserveLatency(endpoint string, d time.Duration) {
	r.Histograms.ObserveDuration(endpoint, d)
}

func (r *Registry) Observe(path string, status int, d time.Duration) {
	millis := d.Milliseconds()
	r.mu.Lock()
	defer r.mu.Unlock()
	stat, ok := r.endpoint[path]
	if !ok {
		stat = &EndpointStat{}
		r.endpoint[path] = stat
	}
	stat.Count++
	if status >= 400 {
		stat.ErrorCount++
	}
	stat.TotalMillis += millis
	if millis > stat.MaxMillis {
		stat.MaxMillis = millis
	}
	stat.LastStatusCode = status
	stat.AverageMillis = float64(stat.TotalMillis) / float64(stat.Count)
}

func (r *Registry) IncVerdict(verdict string) {
	if verdict == "" {
		return
	}
	r.mu.Lock()
	r.verdict[verdict]++
	r.mu.Unlock()
}

func (r *Registry) IncReason(reason string) {
	if reason == "" {
		return
	}
	r.mu.Lock()
	r.reason[reason]++
	r.mu.Unlock()
}

func (r *Registry) IncVerdictReason(verdict, reason string) {
	verdict = strings.TrimSpace(verdict)
	reason = strings.TrimSpace(reason)
	if verdict == "" {
		return
	}
	if reason == "" {
		reason = "UNKNOWN"
	}
	key := verdict + "|" + reason
	r.mu.Lock()
	r.verdictReason[key]++
	r.mu.Unlock()
}

func (r *Registry) ObserveValidateLatency(d time.Duration) {
	ms := d.Milliseconds()
	if ms < 0 {
		ms = 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.validateLatency.Count++
	r.validateLatency.TotalMS += ms
	r.validateLatency.LastMS = ms
	if ms > r.validateLatency.MaxMS {
		r.validateLatency.MaxMS = ms
	}
	r.validateLatency.AvgMS = float64(r.validateLatency.TotalMS) / float64(r.validateLatency.Count)
}

func (r *Registry) IncCrisis(trigger string) {
	trigger = strings.TrimSpace(strings.ToUpper(trigger))
	if trigger == "" {
		return
	}
	r.mu.Lock()
	r.crisisTrigger[trigger]++
	r.mu.Unlock()
}

func (r *Registry) AddDeliveryState(state string, delta int64) {
	state = strings.TrimSpace(strings.ToUpper(state))
	if state == "" || delta <= 0 {
		return
	}
	r.mu.Lock()
	r.deliveryState[state] += delta
	r.mu.Unlock()
}

func (r *Registry) IncDeliveryState(state string) {
	r.AddDeliveryState(state, 1)
}

func (r *Registry) IncAdapterTranslations() {
	r.mu.Lock()
	r.adapterTranslations++
	r.mu.Unlock()
}

func (r *Registry) SetGauge(name string, value float64) {
	if name == "" {
		return
	}
	r.mu.Lock()
	r.gauges[name] = value
	r.mu.Unlock()
}

func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := Snapshot{
		GeneratedAt:              time.Now().UTC().Format(time.RFC3339),
		Endpoints:                make(map[string]EndpointStat, len(r.endpoint)),
		Verdicts:                 make(map[string]int64, len(r.verdict)),
		Reasons:                  make(map[string]int64, len(r.reason)),
		Gauges:                   make(map[string]float64, len(r.gauges)),
		VerdictReason:            make(map[string]int64, len(r.verdictReason)),
		CrisisTotals:             make(map[string]int64, len(r.crisisTrigger)),
		DeliveryTotals:           make(map[string]int64, len(r.deliveryState)),
		AdapterTranslationsTotal: r.adapterTranslations,
		ValidateLatencyMS: ValidateLatencyStat{
			Count:   r.validateLatency.Count,
			TotalMS: r.validateLatency.TotalMS,
			MaxMS:   r.validateLatency.MaxMS,
			LastMS:  r.validateLatency.LastMS,
			AvgMS:   r.validateLatency.AvgMS,
		},
	}
	for k, v := range r.endpoint {
		out.Endpoints[k] = *v
	}
	for k, v := range r.verdict {
		out.Verdicts[k] = v
	}
	for k, v := range r.reason {
		out.Reasons[k] = v
	}
	for k, v := range r.gauges {
		out.Gauges[k] = v
	}
	for k, v := range r.verdictReason {
		out.VerdictReason[k] = v
	}
	for k, v := range r.crisisTrigger {
		out.CrisisTotals[k] = v
	}
	for k, v := range r.deliveryState {
		out.DeliveryTotals[k] = v
	}
	out.Histograms = r.Histograms.Snapshots()
	return out
}

func (r *Registry) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		snap := r.Snapshot()
		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(snap)
	}
}

func (r *Registry) PrometheusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		snap := r.Snapshot()
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		b := &strings.Builder{}
		b.WriteString("# HELP consent_endpoint_count total requests by endpoint\n")
		b.WriteString("# TYPE consent_endpoint_count counter\n")
		for _, ep := range SortedKeys(snap.Endpoints) {
			stat := snap.Endpoints[ep]
			fmt.Fprintf(b, "consent_endpoint_count{endpoint=%q} %d\n", ep, stat.Count)
		}
		b.WriteString("# HELP consent_endpoint_error_count total endpoint errors\n")
		b.WriteString("# TYPE consent_endpoint_error_count counter\n")
		for _, ep := range SortedKeys(snap.Endpoints) {
			stat := snap.Endpoints[ep]
			fmt.Fprintf(b, "consent_endpoint_error_count{endpoint=%q} %d\n", ep, stat.ErrorCount)
		}
		b.WriteString("# HELP consent_endpoint_avg_millis endpoint average latency in milliseconds\n")
		b.WriteString("# TYPE consent_endpoint_avg_millis gauge\n")
		for _, ep := range SortedKeys(snap.Endpoints) {
			stat := snap.Endpoints[ep]
			fmt.Fprintf(b, "consent_endpoint_avg_millis{endpoint=%q} %.3f\n", ep, stat.AverageMillis)
		}
		b.WriteString("# HELP consent_endpoint_total_millis endpoint total time in milliseconds\n")
		b.WriteString("# TYPE consent_endpoint_total_millis counter\n")
		for _, ep := range SortedKeys(snap.Endpoints) {
			stat := snap.Endpoints[ep]
			fmt.Fprintf(b, "consent_endpoint_total_millis{endpoint=%q} %d\n", ep, stat.TotalMillis)
		}
		b.WriteString("# HELP consent_endpoint_max_millis endpoint max latency in milliseconds\n")
		b.WriteString("# TYPE consent_endpoint_max_millis gauge\n")
		for _, ep := range SortedKeys(snap.Endpoints) {
			stat := snap.Endpoints[ep]
			fmt.Fprintf(b, "consent_endpoint_max_millis{endpoint=%q} %d\n", ep, stat.MaxMillis)
		}
		b.WriteString("# HELP consent_verdict_total total decisions by verdict\n")
		b.WriteString("# TYPE consent_verdict_total counter\n")
		for _, verdict := range SortedKeys(snap.Verdicts) {
			fmt.Fprintf(b, "consent_verdict_total{verdict=%q} %d\n", verdict, snap.Verdicts[verdict])
		}
		b.WriteString("# HELP consent_reason_total total decisions by reason code\n")
		b.WriteString("# TYPE consent_reason_total counter\n")
		for _, reason := range SortedKeys(snap.Reasons) {
			fmt.Fprintf(b, "consent_reason_total{reason=%q} %d\n", reason, snap.Reasons[reason])
		}
		b.WriteString("# HELP consent_gauge operational gauge metrics\n")
		b.WriteString("# TYPE consent_gauge gauge\n")
		for _, name := range SortedKeys(snap.Gauges) {
			fmt.Fprintf(b, "consent_gauge{name=%q} %.3f\n", name, snap.Gauges[name])
		}
		for _, h := range snap.Histograms {
			b.WriteString("# HELP consent_latency_seconds latency histogram\n")
			b.WriteString("# TYPE consent_latency_seconds histogram\n")
			for _, bucket := range h.Buckets {
				fmt.Fprintf(b, "consent_latency_seconds_bucket{endpoint=%q,le=\"%.3f\"} %d\n", h.Name, bucket.Le, bucket.Count)
			}
			fmt.Fprintf(b, "consent_latency_seconds_bucket{endpoint=%q,le=\"+Inf\"} %d\n", h.Name, h.Count)
			fmt.Fprintf(b, "consent_latency_seconds_sum{endpoint=%q} %.6f\n", h.Name, h.Sum)
			fmt.Fprintf(b, "consent_latency_seconds_count{endpoint=%q} %d\n", h.Name, h.Count)
			fmt.Fprintf(b, "consent_latency_p50_seconds{endpoint=%q} %.6f\n", h.Name, h.P50)
			fmt.Fprintf(b, "consent_latency_p95_seconds{endpoint=%q} %.6f\n", h.Name, h.P95)
			fmt.Fprintf(b, "consent_latency_p99_seconds{endpoint=%q} %.6f\n", h.Name, h.P99)
		}

		b.WriteString("# HELP consent_decision_total decisions by verdict and reason\n")
		b.WriteString("# TYPE consent_decision_total counter\n")
		for _, key := range SortedKeys(snap.VerdictReason) {
			parts := strings.SplitN(key, "|", 2)
			verdict := parts[0]
			reason := "UNKNOWN"
			if len(parts) == 2 {
				reason = parts[1]
			}
			fmt.Fprintf(b, "consent_decision_total{verdict=%q,reason=%q} %d\n", verdict, reason, snap.VerdictReason[key])
		}

		b.WriteString("# HELP consent_validate_latency_ms invariant validation latency in ms\n")
		b.WriteString("# TYPE consent_validate_latency_ms gauge\n")
		fmt.Fprintf(b, "consent_validate_latency_ms{stat=%q} %d\n", "last", snap.ValidateLatencyMS.LastMS)
		fmt.Fprintf(b, "consent_validate_latency_ms{stat=%q} %.3f\n", "avg", snap.ValidateLatencyMS.AvgMS)
		fmt.Fprintf(b, "consent_validate_latency_ms{stat=%q} %d\n", "max", snap.ValidateLatencyMS.MaxMS)

		b.WriteString("# HELP consent_crisis_total crisis flags raised by trigger\n")
		b.WriteString("# TYPE consent_crisis_total counter\n")
		for _, trigger := range SortedKeys(snap.CrisisTotals) {
			fmt.Fprintf(b, "consent_crisis_total{trigger=%q} %d\n", trigger, snap.CrisisTotals[trigger])
		}

		b.WriteString("# HELP consent_delivery_total review notice transitions by state\n")
		b.WriteString("# TYPE consent_delivery_total counter\n")
		for _, state := range SortedKeys(snap.DeliveryTotals) {
			fmt.Fprintf(b, "consent_delivery_total{state=%q} %d\n", state, snap.DeliveryTotals[state])
		}

		b.WriteString("# HELP consent_adapter_translations_total legacy adapter translations performed\n")
		b.WriteString("# TYPE consent_adapter_translations_total counter\n")
		fmt.Fprintf(b, "consent_adapter_translations_total %d\n", snap.AdapterTranslationsTotal)

		_, _ = w.Write([]byte(b.String()))
	}
}

func SortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
