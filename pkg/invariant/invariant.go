package invariant

import (
	"context"
	"errors"
	"fmt"

	"github.com/danielr-rlty/rlty-platform/pkg/adapter"
	"github.com/danielr-rlty/rlty-platform/pkg/models"
)

// Validation modes.
const (
	ModeLegacyOnly  = "legacy_only"
	ModeCurrentOnly = "current_only"
	ModeDualCompare = "dual_compare"
)

// Overall verdicts per invariant set.
const (
	VerdictPass = "PASS"
	VerdictFail = "FAIL"
)

var ErrUnknownMode = errors.New("invariant: unknown validation mode")

type check struct {
	id    models.InvariantID
	field string
}

// An invariant holds iff its backing field is present and true.
// Absence is a violation: a model that does not carry a fact cannot
// claim to satisfy it.
var legacySet = []check{
	{models.InvLegacyFreelyGiven, models.FieldFreelyGiven},
	{models.InvLegacyInformed, models.FieldInformed},
	{models.InvLegacySpecific, models.FieldSpecific},
	{models.InvLegacyRevocable, models.FieldRevocable},
}

var currentSet = []check{
	{models.InvCurrentParticipation, models.FieldParticipation},
	{models.InvCurrentOutcome, models.FieldImprovesOutcome},
	{models.InvCurrentHarmBounded, models.FieldReducesHarm},
}

// Validator evaluates consent records against the legacy and current
// invariant sets. It reports; it never decides whether a divergence
// blocks anything.
type Validator struct {
	Adapter *adapter.Adapter
}

func New(a *adapter.Adapter) *Validator {
	return &Validator{Adapter: a}
}

// Validate runs the requested mode against the record. DualCompare
// translates the record into the opposite model first, evaluates both
// sets against the resulting facts, and flags divergence when the two
// overall verdicts disagree.
func (v *Validator) Validate(ctx context.Context, rec models.ConsentRecord, mode string) (models.ValidationResult, error) {
	res := models.ValidationResult{ModelVersion: rec.ModelVersion, Mode: mode}

	switch mode {
	case ModeLegacyOnly:
		fields, err := v.factsFor(ctx, rec, models.ModelLegacy)
		if err != nil {
			return res, err
		}
		res.Satisfied, res.Violated = evaluate(legacySet, fields)
		res.LegacyVerdict = verdict(res.Violated)
		return res, nil

	case ModeCurrentOnly:
		fields, err := v.factsFor(ctx, rec, models.ModelCurrent)
		if err != nil {
			return res, err
		}
		res.Satisfied, res.Violated = evaluate(currentSet, fields)
		res.CurrentVerdict = verdict(res.Violated)
		return res, nil

	case ModeDualCompare:
		legacyFields, err := v.factsFor(ctx, rec, models.ModelLegacy)
		if err != nil {
			return res, err
		}
		currentFields, err := v.factsFor(ctx, rec, models.ModelCurrent)
		if err != nil {
			return res, err
		}
		legacySat, legacyViol := evaluate(legacySet, legacyFields)
		currentSat, currentViol := evaluate(currentSet, currentFields)
		res.Satisfied = append(legacySat, currentSat...)
		res.Violated = append(legacyViol, currentViol...)
		res.LegacyVerdict = verdict(legacyViol)
		res.CurrentVerdict = verdict(currentViol)
		res.Divergent = res.LegacyVerdict != res.CurrentVerdict
		return res, nil

	default:
		return res, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
}

// factsFor returns the record's fields expressed in the target model,
// translating through the adapter when the record declares the other
// model.
func (v *Validator) factsFor(ctx context.Context, rec models.ConsentRecord, target models.ModelVersion) (map[string]bool, error) {
	if rec.ModelVersion == target {
		return rec.Fields, nil
	}
	var (
		tr  models.Translation
		err error
	)
	if target == models.ModelCurrent {
		tr, err = v.Adapter.ToCurrent(ctx, rec)
	} else {
		tr, err = v.Adapter.ToLegacy(ctx, rec)
	}
	if err != nil {
		return nil, err
	}
	return tr.Record.Fields, nil
}

func evaluate(set []check, fields map[string]bool) (satisfied, violated []models.InvariantID) {
	for _, c := range set {
		if fields[c.field] {
			satisfied = append(satisfied, c.id)
		} else {
			violated = append(violated, c.id)
		}
	}
	return satisfied, violated
}

func verdict(violated []models.InvariantID) string {
	if len(violated) == 0 {
		return VerdictPass
	}
	return VerdictFail
}
