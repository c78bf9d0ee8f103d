package helpdesk

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnsupportedPlatform = errors.New("unsupported helpdesk platform")
	ErrInvalidConfig       = errors.New("invalid helpdesk config")
	ErrTransportFailure    = errors.New("helpdesk transport failure")
	ErrInvalidResponse     = errors.New("invalid helpdesk response")
)

// ProviderError is a non-2xx reply from a helpdesk API. Op names the step
// that failed (token, contact, ticket).
type ProviderError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *ProviderError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 500 {
		body = body[:500] + "..."
	}
	return fmt.Sprintf("helpdesk %s http %d: %s", e.Op, e.StatusCode, body)
}
