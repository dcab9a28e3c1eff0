package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/agnivade/levenshtein"
)

var (
	ErrNotFound              = errors.New("not found")
	ErrConflict              = errors.New("already exists")
	ErrUnknownKey            = errors.New("unknown key")
	ErrProtectedExtension    = errors.New("extension is protected")
	ErrPersistence           = errors.New("persistence failure")
	ErrDegradedSecretStorage = errors.New("secure secret storage unavailable")
	ErrInvalidValue          = errors.New("invalid value")
)

// Error carries the operation and subject of a failure. errors.Is matches
// both Kind and the wrapped cause.
type Error struct {
	Op         string
	Kind       error
	Key        string
	Namespace  Namespace
	Extension  string
	Tool       string
	Suggestion string
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Extension != "" {
		fmt.Fprintf(&b, " extension %q", e.Extension)
	}
	if e.Tool != "" {
		fmt.Fprintf(&b, " tool %q", e.Tool)
	}
	if e.Key != "" {
		fmt.Fprintf(&b, " key %q", e.Key)
	}
	if e.Namespace != "" {
		fmt.Fprintf(&b, " (%s)", e.Namespace)
	}
	if e.Kind != nil {
		b.WriteString(": ")
		b.WriteString(e.Kind.Error())
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if e.Suggestion != "" {
		fmt.Fprintf(&b, " (did you mean %q?)", e.Suggestion)
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// Suggest returns the candidate closest to target, or "" if none is close
// enough to be a plausible typo.
func Suggest(target string, candidates []string) string {
	best, bestDist := "", -1
	for _, c := range candidates {
		d := levenshtein.ComputeDistance(strings.ToLower(target), strings.ToLower(c))
		if bestDist < 0 || d < bestDist {
			best, bestDist = c, d
		}
	}
	limit := len(target) / 3
	if limit < 2 {
		limit = 2
	}
	if bestDist < 0 || bestDist > limit {
		return ""
	}
	return best
}
