package decision

import (
	"github.com/danielr-rlty/rlty-platform/pkg/invariant"
	"github.com/danielr-rlty/rlty-platform/pkg/models"
)

const (
	VerdictAllow = "ALLOW"
	VerdictDeny  = "DENY"
)

// Divergence policies.
const (
	PolicyStrict     = "strict"
	PolicyPermissive = "permissive"
)

// Intervention kinds, mildest first.
const (
	InterveneGentlePrompt = "gentle_prompt"
	InterveneReEngage     = "re_engagement"
	InterveneSupportive   = "supportive"
	InterveneCrisis       = "crisis_outreach"
)

type Config struct {
	Policy               string
	SupportiveThreshold  float64 // dependency index
	ReEngageThreshold    float64 // dependency index
	GentlePromptMinScore float64 // engagement quality
}

func DefaultConfig() Config {
	return Config{
		Policy:               PolicyStrict,
		SupportiveThreshold:  7,
		ReEngageThreshold:    4,
		GentlePromptMinScore: 60,
	}
}

type Inputs struct {
	Validation     models.ValidationResult
	Scores         models.Scores
	Crisis         bool
	BudgetExceeded bool
}

// Intervention is a recommendation for the human-review channel. It
// shapes how to reach the user, never whether a validation failure is
// surfaced.
type Intervention struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

var interventionCopy = map[string]string{
	InterveneGentlePrompt: "Take your time. I'm here.",
	InterveneReEngage:     "Are you still there? Let me know if you need anything.",
	InterveneSupportive:   "This can be a lot. Would you like to take a break?",
	InterveneCrisis:       "We're connecting you with someone who can help right now.",
}

// Decide combines the validator's result with the session's composite
// scores. Behavioral signals only ever shape the intervention; they
// can never turn a failed validation into an allow.
func Decide(cfg Config, in Inputs) (bool, *Intervention, string) {
	if in.BudgetExceeded {
		return false, nil, "BUDGET_EXCEEDED"
	}
	if in.Crisis {
		return false, suggest(InterveneCrisis), "CRISIS_OVERRIDE"
	}
	if primaryFailed(in.Validation) {
		return false, intervention(cfg, in.Scores), "INVARIANT_FAIL"
	}
	if in.Validation.Divergent {
		if cfg.Policy == PolicyPermissive {
			return true, intervention(cfg, in.Scores), "DIVERGENT_RECORDED"
		}
		return false, intervention(cfg, in.Scores), "DIVERGENT_STRICT"
	}
	return true, intervention(cfg, in.Scores), "OK"
}

// primaryFailed judges the record's own model. In dual-compare the
// other set's verdict feeds the divergence path instead.
func primaryFailed(v models.ValidationResult) bool {
	switch v.Mode {
	case invariant.ModeDualCompare:
		if v.ModelVersion == models.ModelLegacy {
			return v.LegacyVerdict == invariant.VerdictFail
		}
		return v.CurrentVerdict == invariant.VerdictFail
	default:
		return len(v.Violated) > 0
	}
}

func intervention(cfg Config, s models.Scores) *Intervention {
	switch {
	case s.DependencyIndex >= cfg.SupportiveThreshold:
		return suggest(InterveneSupportive)
	case s.DependencyIndex >= cfg.ReEngageThreshold:
		return suggest(InterveneReEngage)
	case s.Engagement >= cfg.GentlePromptMinScore:
		return suggest(InterveneGentlePrompt)
	default:
		return nil
	}
}

func suggest(kind string) *Intervention {
	return &Intervention{Kind: kind, Message: interventionCopy[kind]}
}
