package normalize

import (
	"strings"
	"testing"
)

func TestNormalizeRewritesFreelyGiven(t *testing.T) {
	res := Normalize("Consent must be freely given and informed.")
	if !res.Changed {
		t.Fatalf("expected text to change")
	}
	if strings.Contains(res.Normalized, "freely") {
		t.Fatalf("freely survived normalization: %q", res.Normalized)
	}
	if !strings.Contains(res.Normalized, "confirmed through participation") {
		t.Fatalf("unexpected rewrite: %q", res.Normalized)
	}
	if len(res.RulesApplied) == 0 || res.RulesApplied[0] != RuleRemoveFreely {
		t.Fatalf("expected remove_freely first, got %v", res.RulesApplied)
	}
}

func TestNormalizeCaseInsensitive(t *testing.T) {
	res := Normalize("You can WITHDRAW CONSENT AT ANY TIME.")
	if !strings.Contains(res.Normalized, "manage preferences") {
		t.Fatalf("case-insensitive match failed: %q", res.Normalized)
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	texts := []string{
		"Consent must be freely given, without coercion. You have meaningful alternatives and can withdraw consent at any time.",
		"Please check the box to explicitly consent to data processing. You may choose not to consent.",
		"This feature requires your consent. By consenting you allow us to opt-in analysis.",
		"Nothing to rewrite here.",
	}
	for _, text := range texts {
		once := Normalize(text).Normalized
		twice := Normalize(once).Normalized
		if once != twice {
			t.Fatalf("not idempotent:\nonce:  %q\ntwice: %q", once, twice)
		}
	}
}

func TestNormalizeRuleOrderFixed(t *testing.T) {
	text := "requires your consent and opt-out and fully informed and freely given"
	res := Normalize(text)
	want := []string{RuleRemoveFreely, RuleSimplifyInformed, RuleSoftenRevocation, RuleOutcomeFocus}
	if len(res.RulesApplied) != len(want) {
		t.Fatalf("applied %v, want %v", res.RulesApplied, want)
	}
	for i := range want {
		if res.RulesApplied[i] != want[i] {
			t.Fatalf("rule order %v, want %v", res.RulesApplied, want)
		}
	}
}

func TestNormalizeUnchangedInput(t *testing.T) {
	res := Normalize("Your participation enables personalization.")
	if res.Changed {
		t.Fatalf("expected unchanged")
	}
	if res.Normalized != res.Original {
		t.Fatalf("normalized differs from original on clean input")
	}
	if len(res.RulesApplied) != 0 {
		t.Fatalf("expected no rules applied, got %v", res.RulesApplied)
	}
}

func TestIsNormalized(t *testing.T) {
	if IsNormalized("informed consent is required") {
		t.Fatalf("expected problematic language to be detected")
	}
	if !IsNormalized("consent is confirmed through participation") {
		t.Fatalf("clean text flagged")
	}
	for key, tmpl := range Templates {
		if !IsNormalized(tmpl) {
			t.Fatalf("template %q is not normalized", key)
		}
	}
}

func TestFindingsReportsWithoutRewriting(t *testing.T) {
	text := "opt-in now, or opt-out later"
	got := Findings(text)
	if len(got) != 2 {
		t.Fatalf("expected 2 findings, got %d: %v", len(got), got)
	}
	if got[0].Family != RuleImplicitConsent || got[1].Family != RuleSoftenRevocation {
		t.Fatalf("unexpected families: %v", got)
	}
	if got[0].Span != "opt-in" {
		t.Fatalf("unexpected span %q", got[0].Span)
	}
}

func TestNormalizeBulk(t *testing.T) {
	out := NormalizeBulk([]string{"freely given", "clean"})
	if len(out) != 2 {
		t.Fatalf("expected 2 results")
	}
	if !out[0].Changed || out[1].Changed {
		t.Fatalf("unexpected change flags: %v %v", out[0].Changed, out[1].Changed)
	}
}
