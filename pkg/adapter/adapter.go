package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/danielr-rlty/rlty-platform/pkg/models"
	"github.com/danielr-rlty/rlty-platform/pkg/store"
)

// ErrBudgetExceeded means a translation blew its latency envelope.
// Callers must refuse the translation, never guess a value.
var ErrBudgetExceeded = errors.New("adapter: translate budget exceeded")

const DefaultBudget = 5 * time.Millisecond

// Static legacy -> current mapping. freely_given has no entry on
// purpose: the current model does not track it, so it is reported as
// unmappable instead of translated.
var defaultMapping = map[string]string{
	models.FieldInformed:    models.FieldImprovesOutcome,
	models.FieldSpecific:    models.FieldReducesHarm,
	models.FieldUnambiguous: models.FieldRetention,
	models.FieldRevocable:   models.FieldPreferenceMgmt,
}

// RuleSource resolves the field mapping table. Lookups happen on the
// request path, so implementations must answer from cache.
type RuleSource interface {
	Mapping(ctx context.Context) (map[string]string, error)
}

type staticSource struct{}

func (staticSource) Mapping(context.Context) (map[string]string, error) {
	return defaultMapping, nil
}

// CacheSource reads a JSON mapping override from the cache, falling
// back to the static table on miss or decode failure.
type CacheSource struct {
	Cache store.Cache
	Key   string
}

func (c *CacheSource) Mapping(ctx context.Context) (map[string]string, error) {
	raw, err := c.Cache.Get(ctx, c.Key)
	if err != nil || raw == "" {
		return defaultMapping, nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(raw), &m); err != nil || len(m) == 0 {
		return defaultMapping, nil
	}
	return m, nil
}

// Adapter translates consent records between the legacy and current
// schemas within a fixed latency budget.
type Adapter struct {
	Budget time.Duration
	Rules  RuleSource
	now    func() time.Time
}

func New(budget time.Duration, rules RuleSource) *Adapter {
	if budget <= 0 {
		budget = DefaultBudget
	}
	if rules == nil {
		rules = staticSource{}
	}
	return &Adapter{Budget: budget, Rules: rules, now: time.Now}
}

// ToCurrent translates a legacy-model record into the current model.
// Legacy fields without a current counterpart are dropped and listed
// in Unmappable. When the input also carries the current-model name
// for a mapped field and the values disagree, the current value wins
// and the loss is recorded as a Discrepancy.
func (a *Adapter) ToCurrent(ctx context.Context, rec models.ConsentRecord) (models.Translation, error) {
	start := a.now()
	mapping, err := a.lookup(ctx, start)
	if err != nil {
		return models.Translation{}, err
	}

	out := models.ConsentRecord{
		SubjectID:    rec.SubjectID,
		ModelVersion: models.ModelCurrent,
		Fields:       make(map[string]bool, len(rec.Fields)),
		CapturedAt:   rec.CapturedAt,
	}
	var unmappable []string
	var discrepancies []models.Discrepancy

	for field, value := range rec.Fields {
		current, ok := mapping[field]
		if !ok {
			if field == models.FieldFreelyGiven {
				unmappable = append(unmappable, field)
				continue
			}
			// Unknown field, pass through untouched.
			if _, exists := out.Fields[field]; !exists {
				out.Fields[field] = value
			}
			continue
		}
		if currentVal, present := rec.Fields[current]; present && currentVal != value {
			discrepancies = append(discrepancies, models.Discrepancy{
				LegacyField:  field,
				CurrentField: current,
				LegacyValue:  value,
				CurrentValue: currentVal,
			})
			out.Fields[current] = currentVal
			continue
		}
		out.Fields[current] = value
	}

	return a.finish(start, out, unmappable, discrepancies)
}

// ToLegacy translates a current-model record into the legacy schema.
// freely_given cannot be derived from the current model; unless the
// input carries it as a pass-through field, it is absent from the
// output and reported unmappable.
func (a *Adapter) ToLegacy(ctx context.Context, rec models.ConsentRecord) (models.Translation, error) {
	start := a.now()
	mapping, err := a.lookup(ctx, start)
	if err != nil {
		return models.Translation{}, err
	}
	inverse := make(map[string]string, len(mapping))
	for legacy, current := range mapping {
		inverse[current] = legacy
	}

	out := models.ConsentRecord{
		SubjectID:    rec.SubjectID,
		ModelVersion: models.ModelLegacy,
		Fields:       make(map[string]bool, len(rec.Fields)),
		CapturedAt:   rec.CapturedAt,
	}
	var unmappable []string
	var discrepancies []models.Discrepancy

	for field, value := range rec.Fields {
		legacy, ok := inverse[field]
		if !ok {
			if _, exists := out.Fields[field]; !exists {
				out.Fields[field] = value
			}
			continue
		}
		if legacyVal, present := rec.Fields[legacy]; present && legacyVal != value {
			discrepancies = append(discrepancies, models.Discrepancy{
				LegacyField:  legacy,
				CurrentField: field,
				LegacyValue:  legacyVal,
				CurrentValue: value,
			})
		}
		out.Fields[legacy] = value
	}
	if _, ok := out.Fields[models.FieldFreelyGiven]; !ok {
		unmappable = append(unmappable, models.FieldFreelyGiven)
	}

	return a.finish(start, out, unmappable, discrepancies)
}

// lookup bounds the rule-source call by whatever budget remains.
func (a *Adapter) lookup(ctx context.Context, start time.Time) (map[string]string, error) {
	remaining := a.Budget - a.now().Sub(start)
	if remaining <= 0 {
		return nil, ErrBudgetExceeded
	}
	lctx, cancel := context.WithTimeout(ctx, remaining)
	defer cancel()
	mapping, err := a.Rules.Mapping(lctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrBudgetExceeded
		}
		return nil, err
	}
	return mapping, nil
}

func (a *Adapter) finish(start time.Time, rec models.ConsentRecord, unmappable []string, discrepancies []models.Discrepancy) (models.Translation, error) {
	elapsed := a.now().Sub(start)
	if elapsed > a.Budget {
		return models.Translation{}, ErrBudgetExceeded
	}
	fidelity := models.FidelityExact
	if len(unmappable) > 0 || len(discrepancies) > 0 {
		fidelity = models.FidelityLossy
	}
	return models.Translation{
		Record:        rec,
		Fidelity:      fidelity,
		Unmappable:    unmappable,
		Discrepancies: discrepancies,
		ElapsedMicros: elapsed.Microseconds(),
	}, nil
}
