// Package permission decides whether an extension's tool may run.
package permission

import (
	"fmt"
	"strings"
)

// Level is a stored permission level.
type Level string

const (
	AlwaysAllow  Level = "always_allow"
	AskOnce      Level = "ask_once"
	AskEveryTime Level = "ask_every_time"
	Deny         Level = "deny"
)

// DefaultLevel applies when neither a tool nor an extension record exists.
const DefaultLevel = AskOnce

// Levels lists every level.
var Levels = []Level{AlwaysAllow, AskOnce, AskEveryTime, Deny}

// ParseLevel accepts the stored names and a few spellings users type.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "-", "_")) {
	case "always_allow", "allow", "always":
		return AlwaysAllow, nil
	case "ask_once", "once":
		return AskOnce, nil
	case "ask_every_time", "ask", "every_time":
		return AskEveryTime, nil
	case "deny", "never":
		return Deny, nil
	}
	return "", fmt.Errorf("unknown permission level %q", s)
}

// Valid reports whether l is one of Levels.
func (l Level) Valid() bool {
	switch l {
	case AlwaysAllow, AskOnce, AskEveryTime, Deny:
		return true
	}
	return false
}

// Decision is the outcome of a permission check.
type Decision int

// The zero Decision denies.
const (
	DecisionDeny Decision = iota
	DecisionAllow
	// DecisionAllowOnceThenAsk is part of the decision vocabulary for callers
	// that grant a single call; Decide itself never returns it.
	DecisionAllowOnceThenAsk
	DecisionRequireConfirmation
)

func (d Decision) String() string {
	switch d {
	case DecisionAllow:
		return "allow"
	case DecisionAllowOnceThenAsk:
		return "allow_once_then_ask"
	case DecisionDeny:
		return "deny"
	case DecisionRequireConfirmation:
		return "require_confirmation"
	}
	return fmt.Sprintf("decision(%d)", int(d))
}

// Record is the stored permission state of one extension.
type Record struct {
	Extension string `json:"extension"`
	// Default is the extension-wide level; empty when unset.
	Default Level            `json:"default,omitempty"`
	Tools   map[string]Level `json:"tools,omitempty"`
}
