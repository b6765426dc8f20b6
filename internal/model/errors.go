package model

type ErrorKind string

const (
	ErrorNone                   ErrorKind = ""
	ErrorGatewayInvalid         ErrorKind = "GatewayInvalid"
	ErrorDataCollectorNotFound  ErrorKind = "DataCollectorNotFound"
	ErrorFormat                 ErrorKind = "FormatError"
	ErrorHealthRiskNotFound     ErrorKind = "HealthRiskNotFound"
	ErrorUnsupportedCombination ErrorKind = "UnsupportedCombination"
	ErrorOther                  ErrorKind = "Other"
)

// FeedbackKey names the localized template replied to the sender for a
// failure kind. An empty key means the sender gets no reply.
func (k ErrorKind) FeedbackKey() string {
	switch k {
	case ErrorFormat:
		return "FormatError"
	case ErrorHealthRiskNotFound:
		return "HealthRiskNotFound"
	case ErrorUnsupportedCombination, ErrorOther:
		return "Other"
	default:
		return ""
	}
}
