package lincs

import (
	"errors"
	"fmt"
)

// Kind classifies a query failure so callers can branch on the failure mode
// without string matching.
type Kind string

const (
	// KindInvalidArgument marks precondition failures detected before any
	// network activity. Never retried.
	KindInvalidArgument Kind = "invalid_argument"
	// KindTimeout marks a call whose retry budget was exhausted by timeouts.
	KindTimeout Kind = "timeout"
	// KindConnection marks a call whose retry budget was exhausted by
	// connection-level failures.
	KindConnection Kind = "connection"
	// KindHTTP marks a completed request with a non-2xx status. Never retried.
	KindHTTP Kind = "http"
	// KindMalformedResponse marks a 2xx body that could not be decoded as a
	// JSON array of records.
	KindMalformedResponse Kind = "malformed_response"
	// KindSchema marks a decodable payload missing a required column.
	KindSchema Kind = "schema"
)

// QueryError is the typed failure returned by every client operation. It is
// always returned, never panicked across the package boundary.
type QueryError struct {
	Kind     Kind
	Status   int    // HTTP status, set for KindHTTP
	Field    string // missing column, set for KindSchema
	Attempts int    // attempts performed before the error surfaced
	Err      error
}

func (e *QueryError) Error() string {
	switch e.Kind {
	case KindInvalidArgument:
		if e.Err != nil {
			return fmt.Sprintf("invalid argument: %v", e.Err)
		}
		return "invalid argument"
	case KindTimeout:
		return fmt.Sprintf("request timed out after %d attempts: %v", e.Attempts, e.Err)
	case KindConnection:
		return fmt.Sprintf("connection failed after %d attempts: %v", e.Attempts, e.Err)
	case KindHTTP:
		return fmt.Sprintf("upstream returned status %d", e.Status)
	case KindMalformedResponse:
		if e.Err != nil {
			return fmt.Sprintf("malformed response: %v", e.Err)
		}
		return "malformed response"
	case KindSchema:
		return fmt.Sprintf("response missing required column %q", e.Field)
	default:
		if e.Err != nil {
			return e.Err.Error()
		}
		return string(e.Kind)
	}
}

func (e *QueryError) Unwrap() error { return e.Err }

// UserMessage returns a sentence suitable for direct display to the person
// running the query. 404 and 5xx responses get distinguished phrasing.
func (e *QueryError) UserMessage() string {
	switch e.Kind {
	case KindInvalidArgument:
		if e.Err != nil {
			return fmt.Sprintf("Invalid input: %v.", e.Err)
		}
		return "Invalid input."
	case KindTimeout:
		return fmt.Sprintf("The LINCS service did not respond after %d attempts. Try again later.", e.Attempts)
	case KindConnection:
		return fmt.Sprintf("Could not reach the LINCS service after %d attempts. Check your network connection.", e.Attempts)
	case KindHTTP:
		switch {
		case e.Status == 404:
			return "Gene not found in the LINCS database. Check the gene symbol and try again."
		case e.Status >= 500:
			return fmt.Sprintf("The LINCS service is temporarily unavailable (status %d). Try again later.", e.Status)
		default:
			return fmt.Sprintf("The LINCS service rejected the request (status %d).", e.Status)
		}
	case KindMalformedResponse:
		return "The LINCS service returned an unexpected response format."
	case KindSchema:
		return fmt.Sprintf("The LINCS service response is missing the %q column.", e.Field)
	default:
		return "The query failed."
	}
}

// AsQueryError unwraps err into a *QueryError when possible.
func AsQueryError(err error) (*QueryError, bool) {
	var qe *QueryError
	if errors.As(err, &qe) {
		return qe, true
	}
	return nil, false
}

// IsKind reports whether err is a *QueryError of the given kind.
func IsKind(err error, kind Kind) bool {
	qe, ok := AsQueryError(err)
	return ok && qe.Kind == kind
}

func invalidArgument(format string, args ...interface{}) *QueryError {
	return &QueryError{Kind: KindInvalidArgument, Err: fmt.Errorf(format, args...)}
}
