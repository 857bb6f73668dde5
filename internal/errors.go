package internal

import (
	"errors"
	"fmt"
	"net/http"
)

// statusErr is a sentinel error keyed by HTTP status code, the same idiom
// the upstream provider transport uses: errors.Is(err, statusErr(429)) lets
// callers test for a class of failure without string matching.
type statusErr int

func (s statusErr) Error() string {
	return fmt.Sprintf("status %d: %s", int(s), http.StatusText(int(s)))
}

func (s statusErr) Status() int {
	return int(s)
}

var (
	errNotFound      = statusErr(http.StatusNotFound)
	errBadRequest    = statusErr(http.StatusBadRequest)
	errUnauthorized  = statusErr(http.StatusUnauthorized)
	errTooManyReqs   = statusErr(http.StatusTooManyRequests)
	errRequestTooBig = statusErr(http.StatusRequestEntityTooLarge)
	errBadGateway    = statusErr(http.StatusBadGateway)
	errTimeout       = statusErr(http.StatusGatewayTimeout)
	errInternal      = statusErr(http.StatusInternalServerError)

	errMissingIDs = errors.Join(errBadRequest, errors.New("missing ids"))
)

// wireCode is one of the wire-level error codes in the response envelope.
type wireCode string

const (
	codeInvalidRequest = wireCode("INVALID_REQUEST")
	codeInvalidISBN    = wireCode("INVALID_ISBN")
	codeInvalidQuery   = wireCode("INVALID_QUERY")
	codeMissingParam   = wireCode("MISSING_PARAM")
	codeFileTooLarge   = wireCode("FILE_TOO_LARGE")
	codeBatchTooLarge  = wireCode("BATCH_TOO_LARGE")
	codeNotFound       = wireCode("NOT_FOUND")
	codeRateLimited    = wireCode("RATE_LIMIT_EXCEEDED")
	codeProviderError  = wireCode("PROVIDER_ERROR")
	codeProviderTimo   = wireCode("PROVIDER_TIMEOUT")
	codeAuthError      = wireCode("AUTH_ERROR")
	codeInternalError  = wireCode("INTERNAL_ERROR")
)

// providerStatus categorizes a provider call's outcome per the contract in
// §4.3: OK | NOT_FOUND | RATE_LIMITED(retryAfter) | TIMEOUT | TRANSIENT |
// AUTH | INVALID.
type providerStatus int

const (
	providerOK providerStatus = iota
	providerNotFound
	providerRateLimited
	providerTimeout
	providerTransient
	providerAuth
	providerInvalid
)

func (p providerStatus) String() string {
	switch p {
	case providerOK:
		return "OK"
	case providerNotFound:
		return "NOT_FOUND"
	case providerRateLimited:
		return "RATE_LIMITED"
	case providerTimeout:
		return "TIMEOUT"
	case providerTransient:
		return "TRANSIENT"
	case providerAuth:
		return "AUTH"
	case providerInvalid:
		return "INVALID"
	default:
		return "UNKNOWN"
	}
}

// classifyHTTPStatus maps an upstream HTTP status code to a providerStatus,
// mirroring errorProxyTransport's blanket 4xx/5xx-to-error conversion but
// split out into the categories the enrichment pipeline needs to decide
// whether to retry, skip, or surface a sanitized code to the caller.
func classifyHTTPStatus(code int) providerStatus {
	switch {
	case code == http.StatusOK:
		return providerOK
	case code == http.StatusNotFound:
		return providerNotFound
	case code == http.StatusTooManyRequests:
		return providerRateLimited
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return providerAuth
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return providerTimeout
	case code >= 400 && code < 500:
		return providerInvalid
	case code >= 500:
		return providerTransient
	default:
		return providerTransient
	}
}

// wireError is the `error` member of the response envelope (§6).
type wireError struct {
	Message string         `json:"message"`
	Code    wireCode       `json:"code"`
	Details map[string]any `json:"details,omitempty"`
}

// httpStatusFor maps an internal error to the HTTP status the envelope
// should be written with, per §7's status table.
func httpStatusFor(err error) int {
	var s statusErr
	if errors.As(err, &s) {
		return s.Status()
	}
	return http.StatusInternalServerError
}
