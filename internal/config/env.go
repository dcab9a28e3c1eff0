package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// DefaultEnvPrefix prefixes environment overrides of plain keys.
const DefaultEnvPrefix = "AGENT_"

// ReservedPrefixes are the plain key prefixes owned by the extension,
// permission and experiment managers.
var ReservedPrefixes = []string{"extensions.", "permissions.", "experiments."}

// DefaultEnvExempt keeps permission levels out of reach of the environment,
// so an inherited variable cannot grant a tool more than the user stored.
var DefaultEnvExempt = []string{"permissions."}

// Reserved reports whether key falls under one of ReservedPrefixes.
func Reserved(key string) bool {
	for _, p := range ReservedPrefixes {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	return false
}

// EnvName derives the environment variable that overrides key: prefix
// followed by the key uppercased, with every character outside [A-Z0-9]
// replaced by an underscore.
func EnvName(prefix, key string) string {
	var b strings.Builder
	b.Grow(len(prefix) + len(key))
	b.WriteString(prefix)
	for _, r := range strings.ToUpper(key) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// environment resolves override variables. The process environment wins
// over values loaded from a dotenv file.
type environment struct {
	lookup func(string) (string, bool)
	dotenv map[string]string
}

func newEnvironment(lookup func(string) (string, bool), envFile string) (environment, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	env := environment{lookup: lookup}
	if envFile == "" {
		return env, nil
	}
	vars, err := godotenv.Read(envFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return env, nil
		}
		return env, fmt.Errorf("reading %s: %w", envFile, err)
	}
	env.dotenv = vars
	return env, nil
}

// get returns a non-empty override value.
func (e environment) get(name string) (string, bool) {
	if v, ok := e.lookup(name); ok && v != "" {
		return v, true
	}
	if v, ok := e.dotenv[name]; ok && v != "" {
		return v, true
	}
	return "", false
}
