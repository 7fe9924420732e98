package analysis

import "errors"

var (
	// ErrEmptyResponse means the model returned no body.
	ErrEmptyResponse = errors.New("empty response from model")

	// ErrMalformedResponse means the body did not match the declared shape.
	ErrMalformedResponse = errors.New("malformed model response")

	// ErrUpstreamFailure wraps transport and service errors.
	ErrUpstreamFailure = errors.New("upstream model failure")
)

// UserMessage is shown for every analysis failure; the kinds are only
// distinguished in logs and the run ledger.
const UserMessage = "Failed to analyze financial data. Please ensure the input is valid and try again."

// Kind names the failure class of err for diagnostics.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrEmptyResponse):
		return "empty_response"
	case errors.Is(err, ErrMalformedResponse):
		return "malformed_response"
	case errors.Is(err, ErrUpstreamFailure):
		return "upstream_failure"
	default:
		return "unknown"
	}
}
