package broker

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTokenExpired marks a response the broker rejected because the
	// access token is no longer valid.
	ErrTokenExpired = errors.New("access token expired")

	// ErrReauthFailed is returned when a call still reports an expired token
	// after a forced refresh. Only new credentials fix it.
	ErrReauthFailed = errors.New("authentication failed again after token refresh; re-check the saved app key and secret key")
)

// AuthError reports missing or rejected broker credentials.
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("broker auth: %s: %v", e.Reason, e.Err)
	}
	return "broker auth: " + e.Reason
}

func (e *AuthError) Unwrap() error { return e.Err }

const (
	ReasonKeysMissing = "keys missing"
	ReasonRejected    = "server rejected credentials"
)

// HTTPError is a non-2xx transport response.
type HTTPError struct {
	StatusCode int
	Body       []byte
}

func (e *HTTPError) Error() string {
	body := strings.TrimSpace(string(e.Body))
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("broker http %d: %s", e.StatusCode, body)
}

// APIError is a transport-successful response whose return code reports a
// business failure (insufficient deposit, unknown order, ...).
type APIError struct {
	APIID      string
	ReturnCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("broker %s: return_code=%d: %s", e.APIID, e.ReturnCode, e.Message)
}

// expiryMarkers are the substrings the broker uses to report a stale token.
var expiryMarkers = []string{"8005", "Token"}

func containsExpiryMarker(body []byte) bool {
	s := string(body)
	for _, m := range expiryMarkers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

// IsExpired reports whether a call outcome signals an expired token.
func IsExpired(resp *Response, err error) bool {
	if errors.Is(err, ErrTokenExpired) {
		return true
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == 401 || containsExpiryMarker(httpErr.Body)
	}
	if err == nil && resp != nil {
		return resp.ReturnCode == returnCodeAuth && containsExpiryMarker(resp.Body)
	}
	return false
}
