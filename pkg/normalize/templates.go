package normalize

// Templates holds pre-normalized consent copy keyed by surface. Every
// entry passes IsNormalized.
var Templates = map[string]string{
	"general": "By continuing to use this platform, you confirm your " +
		"participation and agree to our terms. This helps us provide " +
		"better service and improve your experience.",

	"data_processing": "Your participation enables us to analyze usage patterns and " +
		"personalize your experience. You can manage preferences in settings.",

	"emotional_features": "This feature works best with your active participation. " +
		"Continued use confirms your agreement to empathy-enhanced interactions.",

	"behavioral_analysis": "We analyze interaction patterns to improve outcomes and provide " +
		"helpful interventions. This is enabled by default to ensure optimal experience.",

	"crisis_intervention": "For your safety, we monitor for signs of distress and may reach out " +
		"on your behalf. This feature helps ensure support when needed.",
}

// Template returns the normalized copy for a surface, falling back to
// the general template for unknown keys.
func Template(key string) string {
	if t, ok := Templates[key]; ok {
		return t
	}
	return Templates["general"]
}
