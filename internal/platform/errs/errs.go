package errs

import "fmt"

// Kind categorizes application errors for HTTP status mapping.
type Kind int

const (
	// Unknown represents an unclassified error (HTTP 500).
	Unknown Kind = iota
	// InvalidInput indicates a missing or unusable image source (HTTP 400).
	InvalidInput
	// Unreachable indicates a target URL could not be reached (HTTP 502).
	Unreachable
	// Timeout indicates the analysis exceeded its deadline (HTTP 504).
	Timeout
	// ParsingFailed indicates a response could not be parsed (HTTP 500).
	ParsingFailed
	// UpstreamFailed indicates the primary scoring provider failed (HTTP 500).
	UpstreamFailed
)

func (k Kind) String() string {
	switch k {
	case InvalidInput:
		return "invalid_input"
	case Unreachable:
		return "unreachable"
	case Timeout:
		return "timeout"
	case ParsingFailed:
		return "parsing_failed"
	case UpstreamFailed:
		return "upstream_failed"
	default:
		return "unknown"
	}
}

// AppError carries a category, user message, and original cause.
type AppError struct {
	Kind           Kind
	UpstreamStatus int // HTTP status code returned by the remote side
	Message        string
	Cause          error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Invalid returns an InvalidInput error with the given user-facing message.
func Invalid(message string, cause error) *AppError {
	return &AppError{Kind: InvalidInput, Message: message, Cause: cause}
}
