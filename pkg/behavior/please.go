package behavior

import (
	"regexp"
	"time"
)

var pleasePattern = regexp.MustCompile(`(?i)\b(please|pls|plz|pleas|pleaes)\b`)

// Need-intensity bands by accumulated frequency.
const (
	IntensityNone     = "none"
	IntensityCasual   = "casual"   // 1-2
	IntensityEngaged  = "engaged"  // 3-7
	IntensityInvested = "invested" // 8-14
	IntensityCritical = "critical" // 15+
)

type PleaseConfig struct {
	ConversionThreshold int // frequency at which conversion is predicted
	CrisisThreshold     int // frequency at which distress is flagged
}

func DefaultPleaseConfig() PleaseConfig {
	return PleaseConfig{ConversionThreshold: 8, CrisisThreshold: 15}
}

// PleaseTracker accumulates need-intensity marker counts for one
// session. Counts only move forward; an utterance never back-dates.
type PleaseTracker struct {
	cfg          PleaseConfig
	total        int
	matchedMsgs  int
	lastRecorded time.Time
}

func NewPleaseTracker(cfg PleaseConfig) *PleaseTracker {
	if cfg.ConversionThreshold <= 0 {
		cfg.ConversionThreshold = 8
	}
	if cfg.CrisisThreshold <= 0 {
		cfg.CrisisThreshold = 15
	}
	return &PleaseTracker{cfg: cfg}
}

// Record counts marker occurrences in one utterance and returns the
// count for that utterance.
func (t *PleaseTracker) Record(text string, at time.Time) int {
	n := len(pleasePattern.FindAllString(text, -1))
	if n > 0 {
		t.total += n
		t.matchedMsgs++
		t.lastRecorded = at
	}
	return n
}

func (t *PleaseTracker) Frequency() int { return t.total }

func (t *PleaseTracker) PerMessage() float64 {
	if t.matchedMsgs == 0 {
		return 0
	}
	return float64(t.total) / float64(t.matchedMsgs)
}

func (t *PleaseTracker) PredictsConversion() bool {
	return t.total >= t.cfg.ConversionThreshold
}

func (t *PleaseTracker) IndicatesDistress() bool {
	return t.total >= t.cfg.CrisisThreshold
}

func (t *PleaseTracker) Intensity() string {
	switch {
	case t.total == 0:
		return IntensityNone
	case t.total <= 2:
		return IntensityCasual
	case t.total <= 7:
		return IntensityEngaged
	case t.total <= 14:
		return IntensityInvested
	default:
		return IntensityCritical
	}
}
