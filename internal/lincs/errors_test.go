package lincs

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestQueryErrorUserMessage(t *testing.T) {
	cases := []struct {
		name    string
		err     *QueryError
		mention string
	}{
		{"not found", &QueryError{Kind: KindHTTP, Status: 404}, "Gene not found"},
		{"server error", &QueryError{Kind: KindHTTP, Status: 503}, "temporarily unavailable"},
		{"client error", &QueryError{Kind: KindHTTP, Status: 403}, "rejected the request"},
		{"timeout", &QueryError{Kind: KindTimeout, Attempts: 3}, "3 attempts"},
		{"connection", &QueryError{Kind: KindConnection, Attempts: 3}, "Could not reach"},
		{"malformed", &QueryError{Kind: KindMalformedResponse}, "unexpected response format"},
		{"schema", &QueryError{Kind: KindSchema, Field: "CD Coefficient"}, `"CD Coefficient"`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msg := tc.err.UserMessage()
			if msg == "" {
				t.Fatal("UserMessage() is empty")
			}
			if !strings.Contains(msg, tc.mention) {
				t.Errorf("UserMessage() = %q, want it to mention %q", msg, tc.mention)
			}
		})
	}
}

func TestQueryErrorUnwrap(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	qe := &QueryError{Kind: KindConnection, Err: cause}

	if !errors.Is(qe, cause) {
		t.Error("errors.Is did not see the wrapped cause")
	}

	wrapped := fmt.Errorf("query failed: %w", qe)
	got, ok := AsQueryError(wrapped)
	if !ok {
		t.Fatalf("AsQueryError(%v) found nothing", wrapped)
	}
	if got.Kind != KindConnection {
		t.Errorf("Kind = %q, want %q", got.Kind, KindConnection)
	}
}

func TestIsKind(t *testing.T) {
	qe := &QueryError{Kind: KindTimeout}

	if !IsKind(qe, KindTimeout) {
		t.Error("IsKind missed a matching kind")
	}
	if IsKind(qe, KindConnection) {
		t.Error("IsKind matched the wrong kind")
	}
	if IsKind(errors.New("plain"), KindTimeout) {
		t.Error("IsKind matched a plain error")
	}
	if IsKind(nil, KindTimeout) {
		t.Error("IsKind matched nil")
	}
}

func TestInvalidArgumentHelper(t *testing.T) {
	err := invalidArgument("limit %d must be between %d and %d", 0, 10, 10000)

	qe, ok := AsQueryError(err)
	if !ok {
		t.Fatalf("invalidArgument returned %T", err)
	}
	if qe.Kind != KindInvalidArgument {
		t.Errorf("Kind = %q, want %q", qe.Kind, KindInvalidArgument)
	}
	if !strings.Contains(qe.Error(), "limit 0") {
		t.Errorf("Error() = %q, want the formatted message", qe.Error())
	}
	if qe.UserMessage() == "" {
		t.Error("UserMessage() is empty for an invalid argument")
	}
}
