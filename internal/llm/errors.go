package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"

	"github.com/sashabaranov/go-openai"
)

// ErrContentPolicy marks an upstream rejection of the prompt on content-policy grounds.
var ErrContentPolicy = errors.New("content policy rejection")

// FailureKind groups upstream failures by what the user should be told.
type FailureKind string

const (
	KindNetwork FailureKind = "network"
	KindTimeout FailureKind = "timeout"
	KindAuth    FailureKind = "authentication"
	KindGeneric FailureKind = "generic"
)

// UpstreamError is a failed upstream call.
type UpstreamError struct {
	Kind       FailureKind
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("upstream %s failure (status %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("upstream %s failure: %v", e.Kind, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Classify maps an error from an upstream call to a FailureKind.
func Classify(err error) FailureKind {
	if err == nil {
		return KindGeneric
	}

	var upstreamErr *UpstreamError
	if errors.As(err, &upstreamErr) && upstreamErr.Kind != "" {
		return upstreamErr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return kindForStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return kindForStatus(reqErr.HTTPStatusCode)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	var opErr *net.OpError
	var dnsErr *net.DNSError
	if errors.As(err, &opErr) || errors.As(err, &dnsErr) ||
		errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return KindNetwork
	}
	return KindGeneric
}

func kindForStatus(code int) FailureKind {
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return KindAuth
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return KindTimeout
	default:
		return KindGeneric
	}
}

func isPolicyRejection(err error) bool {
	var apiErr *openai.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if fmt.Sprint(apiErr.Code) == "content_policy_violation" || apiErr.Type == "image_generation_user_error" {
		return true
	}
	msg := strings.ToLower(apiErr.Message)
	return strings.Contains(msg, "safety system") || strings.Contains(msg, "content policy")
}
