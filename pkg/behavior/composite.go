package behavior

import (
	"time"

	"github.com/danielr-rlty/rlty-platform/pkg/models"
)

// Weights for the engagement quality composite. Sub-signals are
// normalized to [0,100] before weighting, so the composite is also
// bounded by [0,100] when weights sum to 1.
type Weights struct {
	Please     float64
	Bargaining float64
	Silence    float64
	Duration   float64
	Frequency  float64
}

func DefaultWeights() Weights {
	return Weights{Please: 0.3, Bargaining: 0.3, Silence: 0.2, Duration: 0.1, Frequency: 0.1}
}

// Normalization ceilings for the sub-signals.
const (
	pleaseSignalCeiling     = 15.0 // crisis band
	bargainingSignalCeiling = 10.0 // exhaustion band
	durationSignalCeiling   = 30.0 // minutes
	frequencySignalCeiling  = 2.0  // utterances per minute
)

func clamp100(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// EngagementScore computes the composite from the trackers' current
// state. Pure with respect to its inputs; nothing is persisted.
func EngagementScore(p *PleaseTracker, b *BargainingLogger, s *SilenceAnalyzer, sessionElapsed time.Duration, utterances int, w Weights) float64 {
	pleaseSignal := clamp100(float64(p.Frequency()) / pleaseSignalCeiling * 100)
	bargainSignal := clamp100(float64(b.Count()) / bargainingSignalCeiling * 100)

	var silenceSignal float64
	if samples := s.Samples(); len(samples) > 0 {
		good := 0
		for _, sm := range samples {
			if sm.Classification == models.SilenceProcessing || sm.Classification == models.SilenceContemplation {
				good++
			}
		}
		silenceSignal = float64(good) / float64(len(samples)) * 100
	}

	minutes := sessionElapsed.Minutes()
	durationSignal := clamp100(minutes / durationSignalCeiling * 100)

	var frequencySignal float64
	if minutes > 0 {
		frequencySignal = clamp100(float64(utterances) / minutes / frequencySignalCeiling * 100)
	}

	return w.Please*pleaseSignal +
		w.Bargaining*bargainSignal +
		w.Silence*silenceSignal +
		w.Duration*durationSignal +
		w.Frequency*frequencySignal
}

// DependencyIndex is a 0-10 risk scale over need intensity,
// bargaining accumulation, and distress-adjacent silence patterns.
func DependencyIndex(p *PleaseTracker, b *BargainingLogger, s *SilenceAnalyzer) float64 {
	score := 0.0
	if p.PredictsConversion() {
		score += 3
	}
	if p.IndicatesDistress() {
		score += 2
	}
	if b.Count() >= 2 {
		score += 2
	}
	if b.has(models.BargainDesperation) {
		score += 2
	}
	if s.IndicatesDissociation() {
		score += 1
	}
	if score > 10 {
		score = 10
	}
	return score
}
