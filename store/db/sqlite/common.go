package sqlite

import (
	"strings"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
)

// decodeJSONColumn decodes a JSON TEXT column, treating empty as the zero value.
func decodeJSONColumn[T any](raw string, dest *T) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		return errors.Wrap(err, "failed to decode json column")
	}
	return nil
}

// placeholders returns n comma-separated "?" markers.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

func int32Args(ids []int32) []any {
	args := make([]any, 0, len(ids))
	for _, id := range ids {
		args = append(args, id)
	}
	return args
}
