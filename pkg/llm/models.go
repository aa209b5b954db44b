package llm

import (
	"strings"

	"github.com/cockroachdb/errors"
)

// ValidateModel picks the model to use for requested from available: an exact
// match, else the first case-insensitive prefix match, else the first
// available model.
func ValidateModel(requested string, available []string) (string, error) {
	if len(available) == 0 {
		return "", errors.Wrap(ErrLLM, "no models available")
	}
	for _, m := range available {
		if m == requested {
			return m, nil
		}
	}
	if requested != "" {
		want := strings.ToLower(requested)
		for _, m := range available {
			if strings.HasPrefix(strings.ToLower(m), want) {
				return m, nil
			}
		}
	}
	return available[0], nil
}
