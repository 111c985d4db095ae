package parser

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/castellan/castellan/pkg/models"
)

// parseDuration normalizes the two delay spellings, an "HH:MM:SS" string or
// a {hours, minutes, seconds} mapping, into one duration. A value matching
// neither shape, or yielding a negative duration, is an invalid action.
func parseDuration(raw any, path string) (time.Duration, error) {
	switch value := raw.(type) {
	case string:
		return parseColonDuration(value, path)
	case map[string]any:
		return parseComponentDuration(value, path)
	default:
		return 0, models.NewInvalidActionError(path, fmt.Sprintf("delay must be an HH:MM:SS string or a component mapping, got %T", raw))
	}
}

func parseColonDuration(value, path string) (time.Duration, error) {
	parts := strings.Split(value, ":")
	if len(parts) != 3 {
		return 0, models.NewInvalidActionError(path, fmt.Sprintf("delay %q is not of the form HH:MM:SS", value))
	}

	components := make([]int, 3)

	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return 0, models.NewInvalidActionError(path, fmt.Sprintf("delay %q has a non-numeric or negative component", value))
		}

		components[i] = n
	}

	return time.Duration(components[0])*time.Hour +
		time.Duration(components[1])*time.Minute +
		time.Duration(components[2])*time.Second, nil
}

func parseComponentDuration(value map[string]any, path string) (time.Duration, error) {
	units := map[string]time.Duration{
		"hours":        time.Hour,
		"minutes":      time.Minute,
		"seconds":      time.Second,
		"milliseconds": time.Millisecond,
	}

	var total time.Duration

	matched := false

	for key, raw := range value {
		unit, ok := units[key]
		if !ok {
			return 0, models.NewInvalidActionError(path, fmt.Sprintf("unknown delay component %q", key))
		}

		n, ok := intValue(raw)
		if !ok {
			return 0, models.NewInvalidActionError(path, fmt.Sprintf("delay component %q must be an integer, got %v", key, raw))
		}

		total += time.Duration(n) * unit
		matched = true
	}

	if !matched {
		return 0, models.NewInvalidActionError(path, "delay mapping has no components")
	}

	if total < 0 {
		return 0, models.NewInvalidActionError(path, fmt.Sprintf("delay resolves to a negative duration (%s)", total))
	}

	return total, nil
}
