// internal/nodeid/parser.go
package nodeid

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// nameRegex matches a workflow or job name.
var nameRegex = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

// jobRegex matches the job half of an address, e.g. `test` or `test[1]`.
var jobRegex = regexp.MustCompile(`^([a-zA-Z0-9_.-]+)(?:\[(\d+)\])?$`)

// isValidName checks for undesirable but technically valid names.
func isValidName(name string) bool {
	if name == "." || name == ".." || name == "-" {
		return false
	}
	return true
}

// ValidateName reports whether name can be used as a workflow or job name.
func ValidateName(name string) error {
	if !nameRegex.MatchString(name) || !isValidName(name) {
		return fmt.Errorf("invalid name %q: only letters, digits, '.', '_' and '-' are allowed", name)
	}
	return nil
}

// Parse creates an Address by parsing its canonical string representation.
func Parse(rawID string) (Address, error) {
	if rawID == "" {
		return Address{}, fmt.Errorf("identifier cannot be empty")
	}

	workflow, job, ok := strings.Cut(rawID, "/")
	if !ok {
		return Address{}, fmt.Errorf("identifier %q is missing the workflow separator '/'", rawID)
	}
	if err := ValidateName(workflow); err != nil {
		return Address{}, fmt.Errorf("identifier %q: workflow: %w", rawID, err)
	}

	matches := jobRegex.FindStringSubmatch(job)
	if matches == nil {
		return Address{}, fmt.Errorf("invalid job segment format: %q", job)
	}
	if !isValidName(matches[1]) {
		return Address{}, fmt.Errorf("invalid job name: %q", matches[1])
	}

	addr := New(workflow, matches[1])
	if matches[2] != "" {
		index, err := strconv.Atoi(matches[2])
		if err != nil {
			// Unreachable due to regex `\d+`
			return Address{}, fmt.Errorf("internal error parsing index: %w", err)
		}
		addr.Index = index
	}
	return addr, nil
}
