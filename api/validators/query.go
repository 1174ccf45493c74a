package validators

import (
	"net/http"
	"strconv"
	"strings"

	pkgerrors "github.com/angelmondragon/storefront-checkout/pkg/errors"
)

const maxQueryValueLen = 256

func ParseQueryInt(r *http.Request, key string, defaultVal, min, max int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return defaultVal, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "query parameter must be numeric").WithDetails(map[string]any{"field": key})
	}
	if value < min || value > max {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "query parameter out of range").WithDetails(map[string]any{"field": key, "min": min, "max": max})
	}
	return value, nil
}

// RequireQuery returns the trimmed values for keys, failing when any is blank.
func RequireQuery(r *http.Request, keys ...string) (map[string]string, error) {
	values := make(map[string]string, len(keys))
	details := map[string]string{}
	for _, key := range keys {
		value := SanitizeString(r.URL.Query().Get(key), maxQueryValueLen)
		if value == "" {
			details[key] = "is required"
			continue
		}
		values[key] = value
	}
	if len(details) > 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "missing query parameters").WithDetails(details)
	}
	return values, nil
}
