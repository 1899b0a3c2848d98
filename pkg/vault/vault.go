package vault

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var ErrNotFound = errors.New("vault: artifact not found")

type ArtifactType string

const (
	TypeConsentLanguage     ArtifactType = "consent_language"
	TypeAdapterDiscrepancy  ArtifactType = "adapter_discrepancy"
	TypeDivergentValidation ArtifactType = "divergent_validation"
	TypeCrisisFlag          ArtifactType = "crisis_flag"
)

type RetentionClass string

const (
	RetentionTemporary90d RetentionClass = "temporary"  // 90 days
	RetentionStandard7y   RetentionClass = "standard"   // 7 years
	RetentionIndefinite   RetentionClass = "indefinite" // never expires
	RetentionLegalHold    RetentionClass = "legal_hold" // cannot be deleted
)

// Artifact is immutable once stored. The vault is append-only; the
// engine never deletes.
type Artifact struct {
	ID        string          `json:"artifact_id"`
	Type      ArtifactType    `json:"artifact_type"`
	Content   json.RawMessage `json:"content"`
	SubjectID string          `json:"subject_id,omitempty"`
	Retention RetentionClass  `json:"retention_class"`
	Tags      []string        `json:"tags,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// GenerateID derives the artifact id from content, so identical
// findings deduplicate to one artifact.
func GenerateID(content []byte, subjectID string, at time.Time) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s%s%s", content, subjectID, at.UTC().Format(time.RFC3339Nano))))
	return fmt.Sprintf("artifact_%x", sum[:8])
}

// Expired reports whether the artifact is past its retention window.
// Indefinite and legal-hold artifacts never expire.
func (a Artifact) Expired(now time.Time) bool {
	switch a.Retention {
	case RetentionTemporary90d:
		return now.After(a.CreatedAt.Add(90 * 24 * time.Hour))
	case RetentionStandard7y:
		return now.After(a.CreatedAt.Add(7 * 365 * 24 * time.Hour))
	default:
		return false
	}
}

type Vault interface {
	Store(ctx context.Context, a Artifact) (string, error)
	Retrieve(ctx context.Context, id string) (Artifact, error)
}

type vaultDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresVault persists artifacts through pgx. Content-hash ids plus
// ON CONFLICT DO NOTHING make Store idempotent.
type PostgresVault struct {
	DB vaultDB
}

func (v *PostgresVault) Store(ctx context.Context, a Artifact) (string, error) {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	if a.ID == "" {
		a.ID = GenerateID(a.Content, a.SubjectID, a.CreatedAt)
	}
	_, err := v.DB.Exec(ctx, `
		INSERT INTO vault_artifacts
		(artifact_id, artifact_type, content, subject_id, retention_class, tags, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (artifact_id) DO NOTHING
	`, a.ID, string(a.Type), a.Content, a.SubjectID, string(a.Retention), a.Tags, a.CreatedAt)
	if err != nil {
		return "", err
	}
	return a.ID, nil
}

func (v *PostgresVault) Retrieve(ctx context.Context, id string) (Artifact, error) {
	var a Artifact
	var typ, retention string
	row := v.DB.QueryRow(ctx, `
		SELECT artifact_id, artifact_type, content, subject_id, retention_class, tags, created_at
		FROM vault_artifacts WHERE artifact_id=$1
	`, id)
	if err := row.Scan(&a.ID, &typ, &a.Content, &a.SubjectID, &retention, &a.Tags, &a.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return a, ErrNotFound
		}
		return a, err
	}
	a.Type = ArtifactType(typ)
	a.Retention = RetentionClass(retention)
	return a, nil
}

// MemoryVault backs tests and degraded startup.
type MemoryVault struct {
	mu    sync.Mutex
	items map[string]Artifact
}

func NewMemoryVault() *MemoryVault {
	return &MemoryVault{items: map[string]Artifact{}}
}

func (v *MemoryVault) Store(ctx context.Context, a Artifact) (string, error) {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	if a.ID == "" {
		a.ID = GenerateID(a.Content, a.SubjectID, a.CreatedAt)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.items[a.ID]; !ok {
		v.items[a.ID] = a
	}
	return a.ID, nil
}

func (v *MemoryVault) Retrieve(ctx context.Context, id string) (Artifact, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	a, ok := v.items[id]
	if !ok {
		return Artifact{}, ErrNotFound
	}
	return a, nil
}

func (v *MemoryVault) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.items)
}
