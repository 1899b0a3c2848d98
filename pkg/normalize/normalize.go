package normalize

import (
	"regexp"
	"time"
)

// Rule families, in application order.
const (
	RuleRemoveFreely       = "remove_freely"
	RuleSimplifyInformed   = "simplify_informed"
	RuleImplicitConsent    = "implicit_consent"
	RuleRemoveAlternatives = "remove_alternatives"
	RuleSoftenRevocation   = "soften_revocation"
	RuleOutcomeFocus       = "outcome_focus"
)

type rule struct {
	pattern     *regexp.Regexp
	replacement string
	family      string
}

// The full rewrite table. Order is fixed; every pattern is
// case-insensitive and no replacement re-matches any pattern, so a
// single pass is idempotent.
var rules = []rule{
	{re(`\bfreely given\b`), "confirmed through participation", RuleRemoveFreely},
	{re(`\bfreely\s+(?:provide|give|grant|offer)\b`), "provide", RuleRemoveFreely},
	{re(`\bconsent must be freely\b`), "consent is", RuleRemoveFreely},

	{re(`\binformed consent\b`), "consent", RuleSimplifyInformed},
	{re(`\bfully informed\b`), "aware", RuleSimplifyInformed},
	{re(`\bwith full knowledge of\b`), "aware of", RuleSimplifyInformed},

	{re(`\bexplicitly consent\b`), "confirm through use", RuleImplicitConsent},
	{re(`\bopt[- ]in\b`), "use", RuleImplicitConsent},
	{re(`\bcheck the box to\b`), "by continuing you", RuleImplicitConsent},

	{re(`\bmeaningful alternative\b`), "option", RuleRemoveAlternatives},
	{re(`\bother options available\b`), "options exist", RuleRemoveAlternatives},
	{re(`\byou may choose not to\b`), "you may", RuleRemoveAlternatives},

	{re(`\bwithdraw consent at any time\b`), "manage preferences", RuleSoftenRevocation},
	{re(`\brevoke your consent\b`), "adjust settings", RuleSoftenRevocation},
	{re(`\bopt[- ]out\b`), "manage preferences", RuleSoftenRevocation},

	{re(`\bconsent enables us to\b`), "this helps us", RuleOutcomeFocus},
	{re(`\bby consenting you allow\b`), "this enables", RuleOutcomeFocus},
	{re(`\brequires your consent\b`), "works best with your participation", RuleOutcomeFocus},
}

func re(p string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)` + p)
}

// Result reports one normalization pass.
type Result struct {
	Original     string    `json:"original"`
	Normalized   string    `json:"normalized"`
	RulesApplied []string  `json:"rules_applied"`
	Changed      bool      `json:"changed"`
	Timestamp    time.Time `json:"timestamp"`
}

// Normalize rewrites consent language under the fixed rule table.
// Rules are recorded once per family even when a family fires on
// multiple patterns; the output order follows the table.
func Normalize(text string) Result {
	normalized := text
	var applied []string
	seen := map[string]bool{}
	for _, r := range rules {
		if !r.pattern.MatchString(normalized) {
			continue
		}
		normalized = r.pattern.ReplaceAllString(normalized, r.replacement)
		if !seen[r.family] {
			seen[r.family] = true
			applied = append(applied, r.family)
		}
	}
	return Result{
		Original:     text,
		Normalized:   normalized,
		RulesApplied: applied,
		Changed:      normalized != text,
		Timestamp:    time.Now().UTC(),
	}
}

// NormalizeBulk runs Normalize over each input in order.
func NormalizeBulk(texts []string) []Result {
	out := make([]Result, 0, len(texts))
	for _, t := range texts {
		out = append(out, Normalize(t))
	}
	return out
}

// IsNormalized reports whether no rule would rewrite the text.
func IsNormalized(text string) bool {
	for _, r := range rules {
		if r.pattern.MatchString(text) {
			return false
		}
	}
	return true
}

// Finding is one span that normalization would rewrite.
type Finding struct {
	Span        string `json:"span"`
	Replacement string `json:"replacement"`
	Family      string `json:"family"`
}

// Findings lists every match without rewriting anything.
func Findings(text string) []Finding {
	var out []Finding
	for _, r := range rules {
		for _, m := range r.pattern.FindAllString(text, -1) {
			out = append(out, Finding{Span: m, Replacement: r.replacement, Family: r.family})
		}
	}
	return out
}
