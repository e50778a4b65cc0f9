package resilience

// ErrorCode is the stable catalog of engine failure kinds surfaced to
// callers and, via user-safe messages, to job records.
type ErrorCode string

const (
	CodeEngineTimeout     ErrorCode = "ENGINE_TIMEOUT"
	CodeEngineRateLimited ErrorCode = "ENGINE_RATE_LIMITED"
	CodeEngineUnavailable ErrorCode = "ENGINE_UNAVAILABLE"
	CodeEngineAuthError   ErrorCode = "ENGINE_AUTH_ERROR"
	CodeEngineCircuitOpen ErrorCode = "ENGINE_CIRCUIT_OPEN"
	CodeInvalidPrompt     ErrorCode = "INVALID_PROMPT"
	CodeTaskTimeout       ErrorCode = "TASK_TIMEOUT"
	CodeUnknown           ErrorCode = "UNKNOWN_ERROR"
)

// userMessages never leak internal engine error text into job records.
var userMessages = map[ErrorCode]string{
	CodeEngineTimeout:     "Video generation timed out. Please try again.",
	CodeEngineRateLimited: "Service busy. Please wait and retry.",
	CodeEngineUnavailable: "Video service temporarily unavailable.",
	CodeEngineAuthError:   "Service configuration error.",
	CodeEngineCircuitOpen: "Video generation temporarily disabled.",
	CodeInvalidPrompt:     "Invalid prompt. Check content guidelines.",
	CodeTaskTimeout:       "Task exceeded maximum processing time.",
	CodeUnknown:           "An unexpected error occurred.",
}

// Message returns the user-safe message for the code.
func (c ErrorCode) Message() string {
	if msg, ok := userMessages[c]; ok {
		return msg
	}
	return userMessages[CodeUnknown]
}

// CodeForStatus maps an HTTP status code to an error code. Status 0 means
// no response was received, which is treated as a timeout.
func CodeForStatus(statusCode int) ErrorCode {
	switch {
	case statusCode == 0:
		return CodeEngineTimeout
	case statusCode == 429:
		return CodeEngineRateLimited
	case statusCode == 401 || statusCode == 403:
		return CodeEngineAuthError
	case statusCode == 400:
		return CodeInvalidPrompt
	case statusCode >= 500:
		return CodeEngineUnavailable
	}
	return CodeUnknown
}
