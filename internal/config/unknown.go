package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance is the maximum edit distance for "did you mean?"
// suggestions when unknown config keys are detected.
const maxLevenshteinDistance = 3

// knownKeys lists the valid keys of each config section.
var knownKeys = map[string][]string{
	"upload": {
		"url", "method", "accept", "field_name", "headers", "with_credentials",
		"response_timeout", "deadline", "progress_debounce", "error_field", "checksum",
	},
	"server": {
		"listen", "upload_path", "static_dir", "max_upload_size", "temp_dir",
	},
	"logging": {
		"log_level", "log_format",
	},
}

// knownSections is the sorted list of section names, for suggestions.
var knownSections = func() []string {
	out := make([]string, 0, len(knownKeys))
	for k := range knownKeys {
		out = append(out, k)
	}

	sort.Strings(out)

	return out
}()

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns
// an error with "did you mean?" suggestions for each unknown key.
func checkUnknownKeys(md *toml.MetaData) error {
	undecoded := md.Undecoded()
	if len(undecoded) == 0 {
		return nil
	}

	var errs []error

	reported := make(map[string]bool)

	for _, key := range undecoded {
		if len(key) == 0 {
			continue
		}

		// An unknown section is reported once, not once per key inside it.
		if _, ok := knownKeys[key[0]]; !ok {
			if reported[key[0]] {
				continue
			}

			reported[key[0]] = true
		}

		if err := buildKeyError(key); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// buildKeyError describes one undecoded key. Top-level keys are checked
// against section names; nested keys against the keys of their section.
func buildKeyError(key toml.Key) error {
	section := key[0]

	fields, ok := knownKeys[section]
	if !ok {
		return unknownKeyError(section, section, knownSections)
	}

	if len(key) < 2 {
		return nil
	}

	return unknownKeyError(key.String(), key[1], fields)
}

func unknownKeyError(full, leaf string, candidates []string) error {
	sorted := append([]string(nil), candidates...)
	sort.Strings(sorted)

	if suggestion := closestMatch(leaf, sorted); suggestion != "" {
		return fmt.Errorf("unknown config key %q: did you mean %q?", full, suggestion)
	}

	return fmt.Errorf("unknown config key %q", full)
}

// closestMatch finds the closest known key by Levenshtein distance.
// Returns empty string if no match is within maxLevenshteinDistance.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range known {
		d := levenshtein(strings.ToLower(unknown), k)
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

			curr[j+1] = min(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}
