package config

import (
	"errors"
	"fmt"
	"sort"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance is the maximum edit distance for "did you mean?"
// suggestions when unknown config keys are detected.
const maxLevenshteinDistance = 3

// knownKeys lists the valid keys of every config section.
var knownKeys = map[string][]string{
	"remote": {
		"client_id", "client_secret", "auth_url", "token_url", "scopes",
		"redirect_port", "api_url", "upload_url",
	},
	"sync": {
		"state_dir", "batch_size", "refresh_margin", "restart_backoff",
		"event_queue_size", "scan_on_start", "root_check_interval", "settle_delay",
		"bandwidth_limit",
	},
	"filter": {
		"include", "ignore_file", "skip_dotfiles", "max_file_size",
	},
	"logging": {
		"log_level", "log_file", "log_format", "log_retention_days", "log_max_size_mb",
	},
	"network": {
		"connect_timeout", "data_timeout", "user_agent",
	},
}

// knownSections is the sorted list of section names for Levenshtein matching.
var knownSections = func() []string {
	keys := make([]string, 0, len(knownKeys))
	for k := range knownKeys {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}()

// allKnownKeys is every leaf key across sections, used to suggest the right
// section when a key is written at the top level.
var allKnownKeys = func() map[string]string {
	m := make(map[string]string)
	for section, keys := range knownKeys {
		for _, k := range keys {
			m[k] = section
		}
	}

	return m
}()

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns
// an error with "did you mean?" suggestions for each unknown key.
func checkUnknownKeys(md *toml.MetaData) error {
	undecoded := md.Undecoded()
	if len(undecoded) == 0 {
		return nil
	}

	var errs []error

	for _, key := range undecoded {
		errs = append(errs, buildKeyError(key))
	}

	return errors.Join(errs...)
}

// buildKeyError creates a descriptive error for an unknown key, suggesting
// the closest known key in the same section when one is near enough.
func buildKeyError(key toml.Key) error {
	if len(key) == 1 {
		name := key[0]
		if section, ok := allKnownKeys[name]; ok {
			return fmt.Errorf("unknown config key %q: belongs in the [%s] section", name, section)
		}

		if suggestion := closestMatch(name, knownSections); suggestion != "" {
			return fmt.Errorf("unknown config key %q: did you mean [%s]?", name, suggestion)
		}

		return fmt.Errorf("unknown config key %q", name)
	}

	section, field := key[0], key[len(key)-1]

	keys, ok := knownKeys[section]
	if !ok {
		return fmt.Errorf("unknown config section [%s]", section)
	}

	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)

	if suggestion := closestMatch(field, sorted); suggestion != "" {
		return fmt.Errorf("unknown config key %q in [%s]: did you mean %q?", field, section, suggestion)
	}

	return fmt.Errorf("unknown config key %q in [%s]", field, section)
}

// closestMatch finds the closest known key by Levenshtein distance.
// Returns empty string if no match is within maxLevenshteinDistance.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range known {
		d := levenshtein(unknown, k)
		if d < bestDist {
			bestDist = d
			best = k
		}
	}

	if bestDist <= maxLevenshteinDistance {
		return best
	}

	return ""
}

// levenshtein computes the edit distance between two strings.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	// Use single-row optimization to avoid allocating a full matrix.
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := range len(a) {
		curr[0] = i + 1

		for j := range len(b) {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = minOf(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}

// minOf returns the minimum of three integers.
func minOf(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}

	if c < m {
		m = c
	}

	return m
}
