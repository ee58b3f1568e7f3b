package domain

// IntentKind is the closed set of email intents the classifier can
// produce. Stage selection is an explicit table keyed by this type,
// not ad hoc conditionals.
type IntentKind string

const (
	IntentNeedsReply     IntentKind = "needs-reply"
	IntentMeetingRequest IntentKind = "meeting-request"
	IntentInformational  IntentKind = "informational"
	IntentIgnorable      IntentKind = "ignorable"
)

// Intent is a classified email intent with its confidence in [0,1].
type Intent struct {
	Kind       IntentKind
	Confidence float64
}
