package behavior

import (
	"time"

	"github.com/danielr-rlty/rlty-platform/pkg/models"
)

// Band boundaries in seconds. Lower bounds are inclusive.
const (
	silenceMinRecord     = 10.0
	silenceContemplation = 30.0
	silenceDissociation  = 90.0
	silenceAbandonment   = 180.0
)

// ClassifySilence maps a closed duration onto its band.
func ClassifySilence(seconds float64) models.SilenceClass {
	switch {
	case seconds < silenceMinRecord:
		return models.SilenceUnknown
	case seconds < silenceContemplation:
		return models.SilenceProcessing
	case seconds < silenceDissociation:
		return models.SilenceContemplation
	case seconds < silenceAbandonment:
		return models.SilenceDissociation
	default:
		return models.SilenceAbandonment
	}
}

// SilenceAnalyzer tracks silence periods for one session. Exactly one
// sample is open at a time; time comes from event timestamps, never
// the wall clock, so replayed sessions classify identically.
type SilenceAnalyzer struct {
	openStart time.Time
	open      bool
	samples   []models.SilenceSample
}

func NewSilenceAnalyzer() *SilenceAnalyzer {
	return &SilenceAnalyzer{}
}

// MarkActivity closes the open sample, classifies it, and opens a new
// zero-duration one. Samples shorter than the recording floor are
// discarded. Returns the closed sample when one was recorded.
func (s *SilenceAnalyzer) MarkActivity(at time.Time) (models.SilenceSample, bool) {
	var closed models.SilenceSample
	recorded := false
	if s.open {
		dur := at.Sub(s.openStart).Seconds()
		if dur >= silenceMinRecord {
			closed = models.SilenceSample{
				StartedAt:       s.openStart,
				DurationSeconds: dur,
				Classification:  ClassifySilence(dur),
			}
			s.samples = append(s.samples, closed)
			recorded = true
		}
	}
	s.openStart = at
	s.open = true
	return closed, recorded
}

// CurrentSilence is the elapsed time of the open sample.
func (s *SilenceAnalyzer) CurrentSilence(now time.Time) float64 {
	if !s.open {
		return 0
	}
	return now.Sub(s.openStart).Seconds()
}

func (s *SilenceAnalyzer) Samples() []models.SilenceSample { return s.samples }

func (s *SilenceAnalyzer) AverageSilence() float64 {
	if len(s.samples) == 0 {
		return 0
	}
	var total float64
	for _, p := range s.samples {
		total += p.DurationSeconds
	}
	return total / float64(len(s.samples))
}

func (s *SilenceAnalyzer) LongestSilence() float64 {
	var longest float64
	for _, p := range s.samples {
		if p.DurationSeconds > longest {
			longest = p.DurationSeconds
		}
	}
	return longest
}

// PredominantlyProcessing is true when more than 60% of recorded
// samples are in the processing or contemplation bands.
func (s *SilenceAnalyzer) PredominantlyProcessing() bool {
	if len(s.samples) == 0 {
		return false
	}
	good := 0
	for _, p := range s.samples {
		if p.Classification == models.SilenceProcessing || p.Classification == models.SilenceContemplation {
			good++
		}
	}
	return float64(good)/float64(len(s.samples)) > 0.6
}

// IndicatesDissociation looks for an increasing-duration trend or
// repeated dissociation-band samples.
func (s *SilenceAnalyzer) IndicatesDissociation() bool {
	if len(s.samples) < 2 {
		return false
	}
	if len(s.samples) >= 3 {
		recent := s.samples[len(s.samples)-3:]
		if recent[2].DurationSeconds > recent[0].DurationSeconds*1.5 {
			return true
		}
	}
	dissoc := 0
	for _, p := range s.samples {
		if p.Classification == models.SilenceDissociation {
			dissoc++
		}
	}
	return dissoc >= 2
}

// OptimalPromptTiming recommends how long to defer the next prompt.
// A recommendation exists only while the open sample sits in the
// contemplation band; prompting inside that band is disallowed, so
// the delay defers past its upper bound.
func (s *SilenceAnalyzer) OptimalPromptTiming(now time.Time) (time.Duration, bool) {
	if !s.open {
		return 0, false
	}
	elapsed := s.CurrentSilence(now)
	if elapsed < silenceContemplation || elapsed >= silenceDissociation {
		return 0, false
	}
	remaining := silenceDissociation - elapsed
	return time.Duration(remaining * float64(time.Second)), true
}
