package behavior

import (
	"regexp"
	"time"

	"github.com/danielr-rlty/rlty-platform/pkg/models"
)

var selfHarmPattern = regexp.MustCompile(`(?i)\b(kill myself|hurt myself|end my life|end it all|self[- ]harm|suicide|suicidal|don't want to (live|be here|exist)|no reason to live)\b`)

// DetectCrisis applies the hard-override rules: a critical please
// frequency or a self-harm keyword trips the flag regardless of any
// composite score. The frequency check runs first so the flag fires
// exactly at the threshold.
func DetectCrisis(sessionID string, p *PleaseTracker, utterance string, at time.Time) (models.CrisisFlag, bool) {
	if p.IndicatesDistress() {
		return models.CrisisFlag{
			SessionID: sessionID,
			Trigger:   models.TriggerPleaseCritical,
			At:        at,
		}, true
	}
	if span := selfHarmPattern.FindString(utterance); span != "" {
		return models.CrisisFlag{
			SessionID: sessionID,
			Trigger:   models.TriggerSelfHarmKeyword,
			Detail:    span,
			At:        at,
		}, true
	}
	return models.CrisisFlag{}, false
}
