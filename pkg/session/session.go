package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/danielr-rlty/rlty-platform/pkg/behavior"
	"github.com/danielr-rlty/rlty-platform/pkg/models"
	"github.com/danielr-rlty/rlty-platform/pkg/store"
)

var (
	// ErrMalformedEvent rejects an event without crashing its session.
	ErrMalformedEvent = errors.New("session: malformed event")
	ErrNotFound       = errors.New("session: not found")
)

// CrisisSink receives crisis flags for mandatory delivery. Submit
// must not drop and must not block event processing indefinitely.
type CrisisSink interface {
	Submit(flag models.CrisisFlag)
}

// Config carries tracker thresholds and dedupe settings.
type Config struct {
	Please     behavior.PleaseConfig
	Bargaining behavior.BargainingConfig
	Weights    behavior.Weights
	DedupeTTL  time.Duration
}

func DefaultConfig() Config {
	return Config{
		Please:     behavior.DefaultPleaseConfig(),
		Bargaining: behavior.DefaultBargainingConfig(),
		Weights:    behavior.DefaultWeights(),
		DedupeTTL:  time.Hour,
	}
}

// Session owns one session's trackers. All mutation goes through the
// session lock; different sessions proceed in parallel.
type Session struct {
	mu sync.Mutex

	ID         string
	Please     *behavior.PleaseTracker
	Bargaining *behavior.BargainingLogger
	Silence    *behavior.SilenceAnalyzer

	startedAt  time.Time
	lastAt     time.Time
	utterances int
}

// ApplyResult reports what one event did to its session.
type ApplyResult struct {
	Duplicate    bool
	PleaseCount  int
	Bargaining   []models.BargainingEvent
	ClosedSample *models.SilenceSample
	Crisis       *models.CrisisFlag
}

// Registry maps session ids to tracker bundles with explicit
// creation and teardown.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session

	cfg    Config
	cache  store.Cache
	crisis CrisisSink
}

func NewRegistry(cfg Config, cache store.Cache, crisis CrisisSink) *Registry {
	if cfg.DedupeTTL <= 0 {
		cfg.DedupeTTL = time.Hour
	}
	if cache == nil {
		cache = store.NewMemoryCache()
	}
	return &Registry{
		sessions: map[string]*Session{},
		cfg:      cfg,
		cache:    cache,
		crisis:   crisis,
	}
}

func (r *Registry) getOrCreate(id string, at time.Time) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		return s
	}
	s := &Session{
		ID:         id,
		Please:     behavior.NewPleaseTracker(r.cfg.Please),
		Bargaining: behavior.NewBargainingLogger(r.cfg.Bargaining),
		Silence:    behavior.NewSilenceAnalyzer(),
		startedAt:  at,
	}
	r.sessions[id] = s
	return s
}

func (r *Registry) get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Apply runs one event through its session's trackers. Delivery is
// at-least-once upstream, so duplicates (keyed by event id) are
// absorbed without double-counting. Timestamps never move the session
// backwards: an out-of-order event is clamped to the last seen time.
func (r *Registry) Apply(ctx context.Context, ev models.SessionEvent) (ApplyResult, error) {
	if err := validate(ev); err != nil {
		return ApplyResult{}, err
	}

	fresh, err := r.cache.SetNX(ctx, dedupeKey(ev), "1", r.cfg.DedupeTTL)
	if err != nil {
		// Dedupe store trouble must not lose events; risk a
		// double-count instead.
		log.Printf("session: dedupe check failed for %s: %v", ev.EventID, err)
		fresh = true
	}
	if !fresh {
		return ApplyResult{Duplicate: true}, nil
	}

	s := r.getOrCreate(ev.SessionID, ev.At)

	s.mu.Lock()
	defer s.mu.Unlock()

	at := ev.At
	if at.Before(s.lastAt) {
		at = s.lastAt
	}
	s.lastAt = at

	res := ApplyResult{}
	if closed, recorded := s.Silence.MarkActivity(at); recorded {
		res.ClosedSample = &closed
	}

	if ev.Utterance != "" {
		s.utterances++
		res.PleaseCount = s.Please.Record(ev.Utterance, at)
		res.Bargaining = s.Bargaining.Scan(ev.Utterance, at)

		if flag, ok := behavior.DetectCrisis(s.ID, s.Please, ev.Utterance, at); ok {
			res.Crisis = &flag
			if r.crisis != nil {
				r.crisis.Submit(flag)
			}
		}
	}
	return res, nil
}

// Scores recomputes the composite outputs from the session's current
// tracker state.
func (r *Registry) Scores(id string) (models.Scores, error) {
	s, ok := r.get(id)
	if !ok {
		return models.Scores{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	elapsed := s.lastAt.Sub(s.startedAt)
	return models.Scores{
		Engagement:      behavior.EngagementScore(s.Please, s.Bargaining, s.Silence, elapsed, s.utterances, r.cfg.Weights),
		DependencyIndex: behavior.DependencyIndex(s.Please, s.Bargaining, s.Silence),
		PleaseCount:     s.Please.Frequency(),
		BargainingCount: s.Bargaining.Count(),
	}, nil
}

// PromptTiming exposes the silence analyzer's recommendation for the
// open sample, measured at the supplied instant.
func (r *Registry) PromptTiming(id string, now time.Time) (time.Duration, bool, error) {
	s, ok := r.get(id)
	if !ok {
		return 0, false, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delay, ok := s.Silence.OptimalPromptTiming(now)
	return delay, ok, nil
}

// UpsellTiming reports whether the bargaining logger recommends an
// upsell prompt at the supplied instant.
func (r *Registry) UpsellTiming(id string, now time.Time) (bool, error) {
	s, ok := r.get(id)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Bargaining.OptimalUpsellTiming(now), nil
}

// ExpireIdle drops sessions whose last event is older than ttl and
// returns how many were dropped. A non-positive ttl disables expiry.
func (r *Registry) ExpireIdle(now time.Time, ttl time.Duration) int {
	if ttl <= 0 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	expired := 0
	for id, s := range r.sessions {
		s.mu.Lock()
		last := s.lastAt
		if last.IsZero() {
			last = s.startedAt
		}
		s.mu.Unlock()
		if now.Sub(last) > ttl {
			delete(r.sessions, id)
			expired++
		}
	}
	return expired
}

// Close tears the session down. Closing an unknown session is a no-op.
func (r *Registry) Close(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func validate(ev models.SessionEvent) error {
	switch {
	case strings.TrimSpace(ev.SessionID) == "":
		return fmt.Errorf("%w: missing session id", ErrMalformedEvent)
	case strings.TrimSpace(ev.EventID) == "":
		return fmt.Errorf("%w: missing event id", ErrMalformedEvent)
	case ev.At.IsZero():
		return fmt.Errorf("%w: missing timestamp", ErrMalformedEvent)
	case ev.Utterance == "" && !ev.ActivityAt:
		return fmt.Errorf("%w: neither utterance nor activity marker", ErrMalformedEvent)
	}
	return nil
}

func dedupeKey(ev models.SessionEvent) string {
	return "evt:" + ev.SessionID + ":" + ev.EventID
}
