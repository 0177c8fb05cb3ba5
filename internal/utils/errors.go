package utils

import (
	"errors"
	"fmt"
	"strings"

	"done/backend"
)

// ErrorWithSuggestion wraps an error with a user-friendly suggestion.
type ErrorWithSuggestion struct {
	Err        error
	Suggestion string
}

// Error implements the error interface.
func (e *ErrorWithSuggestion) Error() string {
	return fmt.Sprintf("%s\n\nSuggestion: %s", e.Err.Error(), e.Suggestion)
}

// GetSuggestion returns the suggestion text.
func (e *ErrorWithSuggestion) GetSuggestion() string {
	return e.Suggestion
}

// Unwrap returns the underlying error for error chain support.
func (e *ErrorWithSuggestion) Unwrap() error {
	return e.Err
}

// WrapWithSuggestion wraps an existing error with a suggestion.
func WrapWithSuggestion(err error, suggestion string) error {
	return &ErrorWithSuggestion{
		Err:        err,
		Suggestion: suggestion,
	}
}

// ErrTaskNotFound returns an error for when a task is not found.
func ErrTaskNotFound(searchTerm string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("%w: task %s", backend.ErrNotFound, searchTerm),
		Suggestion: "Check the id or use 'done tasks <provider>' to see all tasks",
	}
}

// ErrListNotFound returns an error for when a list is not found.
func ErrListNotFound(listName string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("%w: list %s", backend.ErrNotFound, listName),
		Suggestion: fmt.Sprintf("Create the list with 'done list create <provider> %s'", listName),
	}
}

// ErrUnknownProvider returns an error when a provider id is not configured.
func ErrUnknownProvider(id string, known []string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("unknown provider: %s", id),
		Suggestion: fmt.Sprintf("Valid providers: %s", strings.Join(known, ", ")),
	}
}

// ErrProviderNotInstalled returns an error when a provider executable is missing.
func ErrProviderNotInstalled(id, executable string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("provider %s is not installed", id),
		Suggestion: fmt.Sprintf("Install %s or set providers.%s.executable in your config file", executable, id),
	}
}

// ErrProviderUnavailable returns an error when a provider is unreachable with smart suggestions.
func ErrProviderUnavailable(id, reason string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("provider %s is unavailable: %s", id, reason),
		Suggestion: getSmartSuggestion(id, reason),
	}
}

// getSmartSuggestion returns a context-aware suggestion based on the error reason.
func getSmartSuggestion(id, reason string) string {
	lowerReason := strings.ToLower(reason)

	if strings.Contains(lowerReason, "no such host") || strings.Contains(lowerReason, "dns") {
		return "Check your DNS settings and internet connection"
	}

	if strings.Contains(lowerReason, "connection refused") {
		return fmt.Sprintf("Start the provider with 'done start %s'", id)
	}

	if strings.Contains(lowerReason, "timeout") || strings.Contains(lowerReason, "deadline") {
		return "The provider may be slow or unreachable. Try again later"
	}

	return "Check 'done providers' and try again"
}

// ErrAuthRequired returns an error when a provider has no usable token.
func ErrAuthRequired(id string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("%w: provider %s needs authorization", backend.ErrUnauthenticated, id),
		Suggestion: fmt.Sprintf("Run 'done login %s'", id),
	}
}

// ErrInvalidDate returns an error for an invalid date string.
func ErrInvalidDate(dateStr string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("%w: date %s", backend.ErrInvalidArgument, dateStr),
		Suggestion: "Use YYYY-MM-DD, 'YYYY-MM-DD HH:MM', today, tomorrow or +Nd",
	}
}

// ErrInvalidStatus returns an error for an invalid status with valid options.
func ErrInvalidStatus(status string, valid []string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("%w: status %s", backend.ErrInvalidArgument, status),
		Suggestion: fmt.Sprintf("Valid options: %s", strings.Join(valid, ", ")),
	}
}

// Explain attaches a suggestion to a provider error based on its class.
// Errors that already carry a suggestion are returned unchanged.
func Explain(providerID string, err error) error {
	if err == nil {
		return nil
	}
	var withSuggestion *ErrorWithSuggestion
	if errors.As(err, &withSuggestion) {
		return err
	}
	switch {
	case errors.Is(err, backend.ErrUnauthenticated):
		return WrapWithSuggestion(err, fmt.Sprintf("Run 'done login %s'", providerID))
	case errors.Is(err, backend.ErrUnavailable):
		return WrapWithSuggestion(err, getSmartSuggestion(providerID, err.Error()))
	case errors.Is(err, backend.ErrUnsupported):
		return WrapWithSuggestion(err, fmt.Sprintf("Provider %s does not support this operation", providerID))
	}
	return err
}
