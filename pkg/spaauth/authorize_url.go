package spaauth

import (
	"fmt"
	"net/url"
	"strings"
)

// spaceMergedParams are the authorize-request parameters whose values are
// space-separated lists: setting them again merges rather than replaces.
var spaceMergedParams = map[string]bool{
	"scope":         true,
	"response_type": true,
	"prompt":        true,
}

// mergeSpaceSeparated joins existing and added space-separated values,
// dropping duplicates while preserving first-seen order.
func mergeSpaceSeparated(existing, added string) string {
	seen := make(map[string]bool)
	var out []string
	for _, v := range append(strings.Fields(existing), strings.Fields(added)...) {
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return strings.Join(out, " ")
}

// buildURL renders base plus params as a full request URL. Query
// parameters already present on base are kept; space-separated parameters
// are merge-deduplicated instead of overwritten.
func buildURL(base string, params map[string]string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("failed to parse endpoint uri %q: %w", base, err)
	}

	query := u.Query()
	for key, value := range params {
		if value == "" {
			continue
		}
		if spaceMergedParams[key] && query.Get(key) != "" {
			query.Set(key, mergeSpaceSeparated(query.Get(key), value))
			continue
		}
		query.Set(key, value)
	}

	u.RawQuery = query.Encode()
	return u.String(), nil
}
