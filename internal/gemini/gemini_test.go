package gemini

import (
	"errors"
	"fmt"
	"testing"

	"google.golang.org/api/googleapi"
)

func TestIsRateLimited(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"googleapi 429", &googleapi.Error{Code: 429, Message: "rate limit"}, true},
		{"wrapped googleapi 429", fmt.Errorf("call: %w", &googleapi.Error{Code: 429}), true},
		{"429 in message", errors.New("Error 429: Too Many Requests"), true},
		{"resource exhausted", errors.New("rpc error: RESOURCE_EXHAUSTED"), true},
		{"quota", errors.New("Quota exceeded for model"), true},
		{"googleapi 500", &googleapi.Error{Code: 500}, false},
		{"generic", errors.New("connection reset"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsRateLimited(tc.err); got != tc.want {
				t.Errorf("IsRateLimited(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestIsSafetyBlocked(t *testing.T) {
	t.Parallel()

	if !IsSafetyBlocked(ErrSafetyBlocked) {
		t.Error("sentinel itself not recognized")
	}
	if !IsSafetyBlocked(fmt.Errorf("model x: %w", ErrSafetyBlocked)) {
		t.Error("wrapped sentinel not recognized")
	}
	if IsSafetyBlocked(errors.New("safety dance")) {
		t.Error("plain error misclassified as safety block")
	}
}
