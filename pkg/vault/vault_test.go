package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/danielr-rlty/rlty-platform/pkg/models"
	"github.com/danielr-rlty/rlty-platform/pkg/normalize"
)

var vt0 = time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)

func TestGenerateIDStableAndPrefixed(t *testing.T) {
	a := GenerateID([]byte("content"), "subj", vt0)
	b := GenerateID([]byte("content"), "subj", vt0)
	if a != b {
		t.Fatalf("id not stable: %s vs %s", a, b)
	}
	if len(a) != len("artifact_")+16 {
		t.Fatalf("unexpected id shape: %s", a)
	}
	if c := GenerateID([]byte("other"), "subj", vt0); c == a {
		t.Fatalf("distinct content collided")
	}
}

func TestExpiry(t *testing.T) {
	tmp := Artifact{Retention: RetentionTemporary90d, CreatedAt: vt0}
	if tmp.Expired(vt0.Add(89 * 24 * time.Hour)) {
		t.Fatalf("expired inside window")
	}
	if !tmp.Expired(vt0.Add(91 * 24 * time.Hour)) {
		t.Fatalf("not expired past window")
	}
	hold := Artifact{Retention: RetentionLegalHold, CreatedAt: vt0}
	if hold.Expired(vt0.Add(100 * 365 * 24 * time.Hour)) {
		t.Fatalf("legal hold must never expire")
	}
}

func TestMemoryVaultStoreRetrieve(t *testing.T) {
	ctx := context.Background()
	v := NewMemoryVault()
	id, err := v.Store(ctx, Artifact{
		Type:      TypeDivergentValidation,
		Content:   json.RawMessage(`{"divergent":true}`),
		SubjectID: "subj-1",
		Retention: RetentionStandard7y,
		CreatedAt: vt0,
	})
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	got, err := v.Retrieve(ctx, id)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if got.Type != TypeDivergentValidation || got.SubjectID != "subj-1" {
		t.Fatalf("got %+v", got)
	}
	if _, err := v.Retrieve(ctx, "artifact_missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryVaultDeduplicatesByContent(t *testing.T) {
	ctx := context.Background()
	v := NewMemoryVault()
	a := Artifact{Type: TypeCrisisFlag, Content: json.RawMessage(`{"x":1}`), SubjectID: "s", CreatedAt: vt0}
	id1, _ := v.Store(ctx, a)
	id2, _ := v.Store(ctx, a)
	if id1 != id2 {
		t.Fatalf("same content produced different ids")
	}
	if v.Len() != 1 {
		t.Fatalf("expected 1 artifact, got %d", v.Len())
	}
}

type fakeVaultDB struct {
	execErr   error
	rowErr    error
	rowValues []any
	execArgs  []any
}

func (f *fakeVaultDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execArgs = append([]any(nil), args...)
	return pgconn.NewCommandTag("INSERT 0 1"), f.execErr
}

func (f *fakeVaultDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return &fakeVaultRow{values: f.rowValues, err: f.rowErr}
}

type fakeVaultRow struct {
	values []any
	err    error
}

func (r *fakeVaultRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != len(r.values) {
		return fmt.Errorf("scan arity mismatch: got=%d want=%d", len(dest), len(r.values))
	}
	for i := range dest {
		switch d := dest[i].(type) {
		case *string:
			*d = r.values[i].(string)
		case *json.RawMessage:
			*d = append((*d)[:0], r.values[i].(json.RawMessage)...)
		case *[]string:
			*d = append((*d)[:0], r.values[i].([]string)...)
		case *time.Time:
			*d = r.values[i].(time.Time)
		default:
			return fmt.Errorf("unsupported scan dest %T", dest[i])
		}
	}
	return nil
}

func TestPostgresVaultStoreGeneratesID(t *testing.T) {
	db := &fakeVaultDB{}
	v := &PostgresVault{DB: db}
	id, err := v.Store(context.Background(), Artifact{
		Type:      TypeAdapterDiscrepancy,
		Content:   json.RawMessage(`{"unmappable":["freely_given"]}`),
		SubjectID: "subj-2",
		Retention: RetentionStandard7y,
		CreatedAt: vt0,
	})
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if id == "" || db.execArgs[0] != id {
		t.Fatalf("generated id not passed to insert: %q vs %v", id, db.execArgs[0])
	}
}

func TestPostgresVaultRetrieveNotFound(t *testing.T) {
	db := &fakeVaultDB{rowErr: pgx.ErrNoRows}
	v := &PostgresVault{DB: db}
	if _, err := v.Retrieve(context.Background(), "artifact_x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRecorderWritesFindings(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryVault()
	rec := &Recorder{Vault: mem}

	id := rec.RecordDivergence(ctx, models.ConsentRecord{SubjectID: "subj-1", ModelVersion: models.ModelCurrent}, models.ValidationResult{Divergent: true})
	if id == "" {
		t.Fatalf("divergence not recorded")
	}

	// Clean translations are not findings.
	if got := rec.RecordTranslation(ctx, models.Translation{Fidelity: models.FidelityExact}); got != "" {
		t.Fatalf("exact translation should not be recorded")
	}
	id = rec.RecordTranslation(ctx, models.Translation{
		Fidelity:   models.FidelityLossy,
		Unmappable: []string{models.FieldFreelyGiven},
	})
	if id == "" {
		t.Fatalf("lossy translation not recorded")
	}

	id = rec.RecordCrisis(ctx, models.CrisisFlag{SessionID: "sess-1", Trigger: models.TriggerPleaseCritical, At: vt0})
	if id == "" {
		t.Fatalf("crisis not recorded")
	}
	got, err := mem.Retrieve(ctx, id)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if got.Retention != RetentionLegalHold {
		t.Fatalf("crisis artifacts carry legal hold, got %s", got.Retention)
	}
}

func TestRecorderWritesNormalizations(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryVault()
	rec := &Recorder{Vault: mem}

	// Unchanged text is not worth an artifact.
	if got := rec.RecordNormalization(ctx, "subj-1", normalize.Result{
		Original:   "I consent",
		Normalized: "I consent",
	}); got != "" {
		t.Fatalf("unchanged text should not be recorded")
	}

	id := rec.RecordNormalization(ctx, "subj-1", normalize.Result{
		Original:     "I freely consent",
		Normalized:   "I consent",
		RulesApplied: []string{normalize.RuleRemoveFreely},
		Changed:      true,
	})
	if id == "" {
		t.Fatalf("changed text not recorded")
	}
	got, err := mem.Retrieve(ctx, id)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if got.Type != TypeConsentLanguage {
		t.Fatalf("type = %s, want %s", got.Type, TypeConsentLanguage)
	}
	if got.Retention != RetentionTemporary90d {
		t.Fatalf("retention = %s, want %s", got.Retention, RetentionTemporary90d)
	}
	var payload struct {
		Original     string   `json:"original"`
		Normalized   string   `json:"normalized"`
		RulesApplied []string `json:"rules_applied"`
	}
	if err := json.Unmarshal(got.Content, &payload); err != nil {
		t.Fatalf("decode content: %v", err)
	}
	if payload.Original != "I freely consent" || payload.Normalized != "I consent" {
		t.Fatalf("payload = %+v", payload)
	}
	if len(payload.RulesApplied) != 1 || payload.RulesApplied[0] != normalize.RuleRemoveFreely {
		t.Fatalf("rules = %v", payload.RulesApplied)
	}
}
