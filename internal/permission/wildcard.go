package permission

import (
	"sort"
	"strings"
)

// Tool records may name a single tool ("read_file") or a wildcard pattern
// ("read_*", "*"). An exact record always wins; among matching patterns the
// one with the most literal characters wins.

func isPattern(tool string) bool {
	return strings.Contains(tool, "*")
}

// matchTool reports whether tool matches pattern, where '*' matches any run
// of characters.
func matchTool(pattern, tool string) bool {
	parts := strings.Split(pattern, "*")
	if len(parts) == 1 {
		return pattern == tool
	}

	if !strings.HasPrefix(tool, parts[0]) {
		return false
	}
	rest := tool[len(parts[0]):]
	last := parts[len(parts)-1]
	for _, part := range parts[1 : len(parts)-1] {
		i := strings.Index(rest, part)
		if i < 0 {
			return false
		}
		rest = rest[i+len(part):]
	}
	return strings.HasSuffix(rest, last) && len(rest) >= len(last)
}

// matchToolLevel finds the level of the best record for tool.
func matchToolLevel(tools map[string]Level, tool string) (Level, bool) {
	if l, ok := tools[tool]; ok {
		return l, true
	}

	var matches []string
	for pattern := range tools {
		if isPattern(pattern) && matchTool(pattern, tool) {
			matches = append(matches, pattern)
		}
	}
	if len(matches) == 0 {
		return "", false
	}
	sort.Slice(matches, func(i, j int) bool {
		li, lj := literalLen(matches[i]), literalLen(matches[j])
		if li != lj {
			return li > lj
		}
		return matches[i] < matches[j]
	})
	return tools[matches[0]], true
}

func literalLen(pattern string) int {
	return len(pattern) - strings.Count(pattern, "*")
}
