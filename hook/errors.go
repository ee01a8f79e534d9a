package hook

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError is one failed validation rule on one attribute, or a
// model-level rule when Field is empty.
type ValidationError struct {
	Field   string
	Rule    string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s: %s", e.Rule, e.Message)
	}
	return fmt.Sprintf("validation failed: %s: %s: %s", e.Field, e.Rule, e.Message)
}

// AggregateValidationError collects every validation failure of one
// validation pass. All attribute- and model-level rules run before it is
// raised, so callers see the complete set at once.
type AggregateValidationError struct {
	Model   string
	Entries []*ValidationError
}

func (e *AggregateValidationError) Error() string {
	msgs := make([]string, len(e.Entries))
	for i, entry := range e.Entries {
		msgs[i] = entry.Error()
	}
	return fmt.Sprintf("%s: %s", e.Model, strings.Join(msgs, "; "))
}

// IsValidationError reports whether err carries validation failures.
func IsValidationError(err error) bool {
	var agg *AggregateValidationError
	return errors.As(err, &agg)
}

// HookAbortError is returned when a lifecycle callback fails. The failing
// callback's error is wrapped, so errors.Is and errors.As reach it.
type HookAbortError struct {
	Event      Event
	Identifier string
	Err        error
}

func (e *HookAbortError) Error() string {
	return fmt.Sprintf("hook %s/%s aborted: %v", e.Event, e.Identifier, e.Err)
}

func (e *HookAbortError) Unwrap() error { return e.Err }

// IsHookAbort reports whether err originates from a failing lifecycle
// callback.
func IsHookAbort(err error) bool {
	var ha *HookAbortError
	return errors.As(err, &ha)
}
