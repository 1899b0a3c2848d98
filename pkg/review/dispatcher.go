package review

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/danielr-rlty/rlty-platform/pkg/httpx"
	"github.com/danielr-rlty/rlty-platform/pkg/models"
)

// Notice is one unit of work for the human-review channel.
type Notice struct {
	ID        string          `json:"id"`
	Kind      string          `json:"kind"`
	SessionID string          `json:"session_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	State     string          `json:"state"`
	Attempts  int             `json:"attempts"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type Config struct {
	URL        string
	AuthHeader string
	AuthToken  string
	Retries    int
	RetryDelay time.Duration
	QueueDepth int
}

// Dispatcher delivers notices to the review endpoint at-least-once.
// Crisis flags bypass queue backpressure: when the queue is full they
// are delivered inline instead of being dropped.
type Dispatcher struct {
	cfg  Config
	doer httpx.Doer
	hub  *Hub

	// Observer, when set, sees every delivery state a notice reaches.
	// The daemon points it at the metrics registry.
	Observer func(state string)

	queue chan Notice
	done  chan struct{}

	mu      sync.Mutex
	notices map[string]*Notice
}

func NewDispatcher(cfg Config, client *http.Client, hub *Hub) *Dispatcher {
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 256
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 200 * time.Millisecond
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Dispatcher{
		cfg: cfg,
		doer: httpx.Doer{
			Client:     client,
			Retries:    cfg.Retries,
			RetryDelay: cfg.RetryDelay,
		},
		hub:     hub,
		queue:   make(chan Notice, cfg.QueueDepth),
		done:    make(chan struct{}),
		notices: map[string]*Notice{},
	}
}

// Submit implements the session registry's crisis sink. Mandatory
// delivery: on queue overflow the flag is sent synchronously.
func (d *Dispatcher) Submit(flag models.CrisisFlag) {
	payload, _ := json.Marshal(flag)
	n := d.track(Notice{
		ID:        uuid.NewString(),
		Kind:      FindingCrisis,
		SessionID: flag.SessionID,
		Payload:   payload,
		State:     StatePending,
		CreatedAt: time.Now().UTC(),
	})
	if d.hub != nil {
		d.hub.Publish(NewFinding(FindingCrisis, flag.SessionID, "", flag))
	}
	select {
	case d.queue <- n:
	default:
		if !d.deliver(context.Background(), n) {
			go d.requeue(context.Background(), n)
		}
	}
}

// SuggestIntervention queues an intervention recommendation. Unlike
// crisis flags these honor backpressure; an overflowing queue delays
// them to the next Run cycle via a blocking send.
func (d *Dispatcher) SuggestIntervention(ctx context.Context, sessionID string, payload interface{}) {
	raw, _ := json.Marshal(payload)
	n := d.track(Notice{
		ID:        uuid.NewString(),
		Kind:      FindingIntervention,
		SessionID: sessionID,
		Payload:   raw,
		State:     StatePending,
		CreatedAt: time.Now().UTC(),
	})
	if d.hub != nil {
		d.hub.Publish(NewFinding(FindingIntervention, sessionID, "", json.RawMessage(raw)))
	}
	select {
	case d.queue <- n:
	case <-ctx.Done():
	}
}

// Run drains the queue until the context ends. Failed deliveries are
// re-queued after the retry delay.
func (d *Dispatcher) Run(ctx context.Context) {
	defer close(d.done)
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-d.queue:
			if !d.deliver(ctx, n) {
				go d.requeue(ctx, n)
			}
		}
	}
}

// requeue returns once Run has stopped so that crisis-path callers
// holding a background context cannot leak.
func (d *Dispatcher) requeue(ctx context.Context, n Notice) {
	select {
	case <-ctx.Done():
	case <-d.done:
	case <-time.After(d.cfg.RetryDelay):
		select {
		case d.queue <- n:
		case <-ctx.Done():
		case <-d.done:
		}
	}
}

// deliver posts one notice and walks the delivery state machine.
// With no endpoint configured the channel runs in log-only mode and
// every notice acknowledges immediately.
func (d *Dispatcher) deliver(ctx context.Context, n Notice) bool {
	d.setState(n.ID, StateDispatched)
	if d.cfg.URL == "" {
		log.Printf("review: %s notice %s (session %s): %s", n.Kind, n.ID, n.SessionID, n.Payload)
		d.setState(n.ID, StateAcknowledged)
		return true
	}

	body, _ := json.Marshal(n)
	headers := map[string]string{}
	if d.cfg.AuthHeader != "" && d.cfg.AuthToken != "" {
		headers[d.cfg.AuthHeader] = d.cfg.AuthToken
	}
	status, _, err := d.doer.Do(ctx, http.MethodPost, d.cfg.URL, body, headers)
	if err != nil || status >= 400 {
		log.Printf("review: deliver %s notice %s failed (status %d): %v", n.Kind, n.ID, status, err)
		d.bumpAttempts(n.ID)
		d.setState(n.ID, StateFailed)
		return false
	}
	d.setState(n.ID, StateAcknowledged)
	return true
}

func (d *Dispatcher) track(n Notice) Notice {
	n.UpdatedAt = n.CreatedAt
	d.mu.Lock()
	stored := n
	d.notices[n.ID] = &stored
	d.mu.Unlock()
	return n
}

func (d *Dispatcher) setState(id, to string) {
	d.mu.Lock()
	n, ok := d.notices[id]
	if !ok {
		d.mu.Unlock()
		return
	}
	next, err := Transition(n.State, to)
	if err != nil {
		d.mu.Unlock()
		return
	}
	n.State = next
	n.UpdatedAt = time.Now().UTC()
	if IsTerminal(next) {
		delete(d.notices, id)
	}
	d.mu.Unlock()
	if d.Observer != nil {
		d.Observer(next)
	}
}

func (d *Dispatcher) bumpAttempts(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n, ok := d.notices[id]; ok {
		n.Attempts++
	}
}

// Pending returns the notices not yet acknowledged.
func (d *Dispatcher) Pending() []Notice {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Notice, 0, len(d.notices))
	for _, n := range d.notices {
		out = append(out, *n)
	}
	return out
}
