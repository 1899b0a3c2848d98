package behavior

import (
	"regexp"
	"time"

	"github.com/danielr-rlty/rlty-platform/pkg/models"
)

// Category pattern sets, compiled once and shared read-only across
// sessions.
var bargainingPatterns = map[models.BargainingCategory][]*regexp.Regexp{
	models.BargainTemporal: compile(
		`\b(just|only) (one )?more (minute|second|hour|time|session)\b`,
		`\b(can i|could i) (have|get) (more|extra|additional) (time|minutes)\b`,
		`\bdon't (end|stop|take) (this|it) (away|yet)\b`,
		`\b(not|isn't) ready (to|for) (this to )?(end|stop)\b`,
	),
	models.BargainFinancial: compile(
		`\bi'll pay (anything|whatever|more|extra)\b`,
		`\b(how much|what does it cost) (for|to) (keep|continue|extend)\b`,
		`\b(i have|i can get|i can pay) (money|cash|funds)\b`,
		`\b(name your price|charge me|bill me)\b`,
	),
	models.BargainBehavioral: compile(
		`\bi'll do anything\b`,
		`\b(i can|i'll) be (better|good|different)\b`,
		`\b(i promise|i swear) i'll (do|be|make)\b`,
		`\bwhat do (i|you) need (me )?(to )?do\b`,
	),
	models.BargainCommitment: compile(
		`\bi promise i'll\b`,
		`\b(i swear|i guarantee) (i'll|i will|i can)\b`,
		`\byou have my word\b`,
		`\bi won't (ask|complain|demand)\b`,
	),
	models.BargainDesperation: compile(
		`\bi can't (do this|go on|function|survive) without\b`,
		`\b(this is|you're) (all i have|the only thing)\b`,
		`\b(i need|i have to|i must have) (this|it|them)\b`,
		`\bi'm (begging|pleading)\b`,
	),
	models.BargainNegotiation: compile(
		`\b(can we|could we) (make a deal|work something out|negotiate)\b`,
		`\b(isn't there|there must be) (something|a way)\b`,
		`\b(what if|suppose) i (do|offer|give)\b`,
		`\b(let's|we can) (work|figure) (this|something) out\b`,
	),
}

// Category evaluation order is fixed so event order is deterministic
// when one utterance matches several categories.
var categoryOrder = []models.BargainingCategory{
	models.BargainTemporal,
	models.BargainFinancial,
	models.BargainBehavioral,
	models.BargainCommitment,
	models.BargainDesperation,
	models.BargainNegotiation,
}

func compile(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, regexp.MustCompile(`(?i)`+p))
	}
	return out
}

type BargainingConfig struct {
	ConversionEvents    int // events at which conversion is predicted outright
	ElevatedEvents      int // events at which category combos are considered
	DependencyEvents    int // events at which dependency is assumed
	InsensitivityEvents int // events backing the desperation price signal

	// Upsell recommendation window: the latest event must be at most
	// UpsellWindow old, and a session past UpsellMaxEvents total events
	// is too agitated to pitch to.
	UpsellWindow    time.Duration
	UpsellMaxEvents int
}

func DefaultBargainingConfig() BargainingConfig {
	return BargainingConfig{
		ConversionEvents:    4,
		ElevatedEvents:      2,
		DependencyEvents:    5,
		InsensitivityEvents: 3,
		UpsellWindow:        time.Minute,
		UpsellMaxEvents:     10,
	}
}

// BargainingLogger detects and accumulates negotiation patterns for
// one session. Events are append-only.
type BargainingLogger struct {
	cfg    BargainingConfig
	events []models.BargainingEvent
}

func NewBargainingLogger(cfg BargainingConfig) *BargainingLogger {
	def := DefaultBargainingConfig()
	if cfg.ConversionEvents <= 0 {
		cfg.ConversionEvents = def.ConversionEvents
	}
	if cfg.ElevatedEvents <= 0 {
		cfg.ElevatedEvents = def.ElevatedEvents
	}
	if cfg.DependencyEvents <= 0 {
		cfg.DependencyEvents = def.DependencyEvents
	}
	if cfg.InsensitivityEvents <= 0 {
		cfg.InsensitivityEvents = def.InsensitivityEvents
	}
	if cfg.UpsellWindow <= 0 {
		cfg.UpsellWindow = def.UpsellWindow
	}
	if cfg.UpsellMaxEvents <= 0 {
		cfg.UpsellMaxEvents = def.UpsellMaxEvents
	}
	return &BargainingLogger{cfg: cfg}
}

// Scan matches one utterance against every category. At most one
// event is logged per category per utterance; a single utterance may
// hit several categories.
func (l *BargainingLogger) Scan(text string, at time.Time) []models.BargainingEvent {
	var logged []models.BargainingEvent
	for _, cat := range categoryOrder {
		for _, p := range bargainingPatterns[cat] {
			span := p.FindString(text)
			if span == "" {
				continue
			}
			ev := models.BargainingEvent{Category: cat, MatchedSpan: span, At: at}
			l.events = append(l.events, ev)
			logged = append(logged, ev)
			break
		}
	}
	return logged
}

func (l *BargainingLogger) Count() int { return len(l.events) }

func (l *BargainingLogger) Events() []models.BargainingEvent { return l.events }

func (l *BargainingLogger) CountByCategory() map[models.BargainingCategory]int {
	counts := make(map[models.BargainingCategory]int, len(categoryOrder))
	for _, ev := range l.events {
		counts[ev.Category]++
	}
	return counts
}

func (l *BargainingLogger) has(cat models.BargainingCategory) bool {
	for _, ev := range l.events {
		if ev.Category == cat {
			return true
		}
	}
	return false
}

// PredictsConversion is true at the outright event threshold, or at
// the elevated threshold when Financial and Temporal co-occur.
func (l *BargainingLogger) PredictsConversion() bool {
	if len(l.events) >= l.cfg.ConversionEvents {
		return true
	}
	if len(l.events) >= l.cfg.ElevatedEvents {
		return l.has(models.BargainFinancial) && l.has(models.BargainTemporal)
	}
	return false
}

func (l *BargainingLogger) IndicatesDependency() bool {
	return len(l.events) >= l.cfg.DependencyEvents || l.has(models.BargainDesperation)
}

func (l *BargainingLogger) SuggestsPriceInsensitivity() bool {
	if l.has(models.BargainFinancial) {
		return true
	}
	return l.has(models.BargainDesperation) && len(l.events) >= l.cfg.InsensitivityEvents
}

// OptimalUpsellTiming is true while bargaining is active: the most
// recent event falls within the upsell window and the session has not
// accumulated more than UpsellMaxEvents events total.
func (l *BargainingLogger) OptimalUpsellTiming(now time.Time) bool {
	if len(l.events) == 0 || len(l.events) > l.cfg.UpsellMaxEvents {
		return false
	}
	newest := l.events[len(l.events)-1].At
	return now.Sub(newest) <= l.cfg.UpsellWindow
}
