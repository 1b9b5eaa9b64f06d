package livesync

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var ErrNotAuthorized = errors.New("not authorized")
var ErrNoSession = errors.New("no active session")

// client-side validation failures. no network call is made when these are returned.
type FieldError struct {
	Field   string
	Message string
}

type FieldErrors []FieldError

func (self FieldErrors) Error() string {
	parts := make([]string, 0, len(self))
	for _, fieldError := range self {
		parts = append(parts, fmt.Sprintf("%s: %s", fieldError.Field, fieldError.Message))
	}
	return strings.Join(parts, "; ")
}

// the backend returns errors in one of three shapes:
// a plain string, an array of strings, or a problem object
// `{"title": ..., "detail": ..., "errors": {field: [messages]}}`.
// all of them flatten to a single human-readable string.
func flattenErrorBody(body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return "request failed"
	}

	switch trimmed[0] {
	case '[':
		var messages []string
		if err := json.Unmarshal(body, &messages); err == nil {
			return strings.Join(messages, "; ")
		}
	case '{':
		var problem struct {
			Title  string              `json:"title"`
			Detail string              `json:"detail"`
			Errors map[string][]string `json:"errors"`
		}
		if err := json.Unmarshal(body, &problem); err == nil {
			parts := []string{}
			if problem.Title != "" {
				parts = append(parts, problem.Title)
			}
			if problem.Detail != "" {
				parts = append(parts, problem.Detail)
			}
			fieldParts := []string{}
			for field, messages := range problem.Errors {
				fieldParts = append(fieldParts, fmt.Sprintf("%s: %s", field, strings.Join(messages, "; ")))
			}
			// map order is random
			sort.Strings(fieldParts)
			parts = append(parts, fieldParts...)
			if 0 < len(parts) {
				return strings.Join(parts, "; ")
			}
		}
	case '"':
		var message string
		if err := json.Unmarshal(body, &message); err == nil && message != "" {
			return message
		}
	}

	return trimmed
}
