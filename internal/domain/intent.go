package domain

import "fmt"

// Intent is a category of user question the local classifier was trained on.
type Intent string

const (
	IntentHighBill   Intent = "high_bill"
	IntentLowBill    Intent = "low_bill"
	IntentEnergyTips Intent = "energy_tips"
	IntentACTips     Intent = "ac_tips"
	IntentGreeting   Intent = "greeting"
	IntentThanks     Intent = "thanks"
	IntentGeneralFAQ Intent = "general_faq"
	IntentUnknown    Intent = "unknown"
)

// Intents returns every intent variant in declaration order.
func Intents() []Intent {
	return []Intent{
		IntentHighBill,
		IntentLowBill,
		IntentEnergyTips,
		IntentACTips,
		IntentGreeting,
		IntentThanks,
		IntentGeneralFAQ,
		IntentUnknown,
	}
}

// ParseIntent maps a classifier label onto the closed intent set.
func ParseIntent(label string) (Intent, error) {
	for _, in := range Intents() {
		if string(in) == label {
			return in, nil
		}
	}
	return "", fmt.Errorf("domain: unknown intent %q", label)
}

// Route records how a chat reply was produced.
type Route string

const (
	RouteCanned         Route = "canned"
	RouteFallback       Route = "fallback"
	RouteFallbackFailed Route = "fallback_failed"
)

// Classification is the classifier's best guess for a message.
type Classification struct {
	Intent     Intent  `json:"intent"`
	Confidence float64 `json:"confidence"`
}
