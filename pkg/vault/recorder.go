package vault

import (
	"context"
	"encoding/json"
	"log"

	"github.com/danielr-rlty/rlty-platform/pkg/models"
	"github.com/danielr-rlty/rlty-platform/pkg/normalize"
)

// Recorder writes the engine's semantic findings to the vault. Vault
// trouble is logged, never allowed to fail the validation path.
type Recorder struct {
	Vault Vault
}

func (r *Recorder) RecordDivergence(ctx context.Context, rec models.ConsentRecord, result models.ValidationResult) string {
	payload, _ := json.Marshal(struct {
		Record models.ConsentRecord    `json:"record"`
		Result models.ValidationResult `json:"result"`
	}{rec, result})
	return r.store(ctx, Artifact{
		Type:      TypeDivergentValidation,
		Content:   payload,
		SubjectID: rec.SubjectID,
		Retention: RetentionStandard7y,
		Tags:      []string{"divergence", string(rec.ModelVersion)},
	})
}

func (r *Recorder) RecordTranslation(ctx context.Context, tr models.Translation) string {
	if len(tr.Unmappable) == 0 && len(tr.Discrepancies) == 0 {
		return ""
	}
	payload, _ := json.Marshal(tr)
	return r.store(ctx, Artifact{
		Type:      TypeAdapterDiscrepancy,
		Content:   payload,
		SubjectID: tr.Record.SubjectID,
		Retention: RetentionStandard7y,
		Tags:      []string{"adapter", string(tr.Fidelity)},
	})
}

// RecordNormalization preserves the raw consent language alongside
// what it was normalized to. Only changed texts are worth vault space.
func (r *Recorder) RecordNormalization(ctx context.Context, subjectID string, res normalize.Result) string {
	if !res.Changed {
		return ""
	}
	payload, _ := json.Marshal(struct {
		Original     string   `json:"original"`
		Normalized   string   `json:"normalized"`
		RulesApplied []string `json:"rules_applied"`
	}{res.Original, res.Normalized, res.RulesApplied})
	return r.store(ctx, Artifact{
		Type:      TypeConsentLanguage,
		Content:   payload,
		SubjectID: subjectID,
		Retention: RetentionTemporary90d,
		Tags:      []string{"normalization"},
	})
}

func (r *Recorder) RecordCrisis(ctx context.Context, flag models.CrisisFlag) string {
	payload, _ := json.Marshal(flag)
	return r.store(ctx, Artifact{
		Type:      TypeCrisisFlag,
		Content:   payload,
		SubjectID: flag.SessionID,
		Retention: RetentionLegalHold,
		Tags:      []string{"crisis", string(flag.Trigger)},
	})
}

func (r *Recorder) store(ctx context.Context, a Artifact) string {
	if r == nil || r.Vault == nil {
		return ""
	}
	id, err := r.Vault.Store(ctx, a)
	if err != nil {
		log.Printf("vault: store %s failed: %v", a.Type, err)
		return ""
	}
	return id
}
