package review

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/danielr-rlty/rlty-platform/pkg/models"
)

// Finding kinds published to stream observers.
const (
	FindingDivergence   = "semantic_divergence"
	FindingUnmappable   = "unmappable_fields"
	FindingCrisis       = "crisis_flag"
	FindingIntervention = "intervention_suggested"
)

func NewFinding(kind, sessionID, subjectID string, data interface{}) models.Finding {
	var raw json.RawMessage
	if data != nil {
		b, _ := json.Marshal(data)
		raw = b
	}
	return models.Finding{
		Kind:      kind,
		SessionID: sessionID,
		SubjectID: subjectID,
		At:        time.Now().UTC().Format(time.RFC3339Nano),
		Data:      raw,
	}
}

// Hub fans findings out to observers. Slow subscribers miss events
// rather than stall the publisher.
type Hub struct {
	mu   sync.RWMutex
	subs map[chan models.Finding]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: map[chan models.Finding]struct{}{}}
}

func (h *Hub) Subscribe(buffer int) chan models.Finding {
	if buffer <= 0 {
		buffer = 32
	}
	ch := make(chan models.Finding, buffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) Unsubscribe(ch chan models.Finding) {
	h.mu.Lock()
	_, exists := h.subs[ch]
	if exists {
		delete(h.subs, ch)
	}
	h.mu.Unlock()
	if exists {
		close(ch)
	}
}

func (h *Hub) Publish(f models.Finding) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs {
		select {
		case ch <- f:
		default:
		}
	}
}
