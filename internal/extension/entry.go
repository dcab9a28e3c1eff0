package extension

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/opencode-ai/agentconfig/internal/config"
)

const (
	// DefaultExtension is the built-in extension seeded into an empty registry.
	DefaultExtension = "developer"
	// DefaultDisplayName is the display name of the default extension.
	DefaultDisplayName = "Developer"
	// DefaultExtensionDescription describes the default extension.
	DefaultExtensionDescription = "Code editing and shell access"
	// DefaultTimeout is the timeout in seconds applied when an entry sets none.
	DefaultTimeout = 300
)

// KeyPrefix prefixes the plain config key of every entry.
const KeyPrefix = "extensions."

var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,63}$`)

// Entry is a configured capability provider.
type Entry struct {
	Name        string
	DisplayName string
	Description string
	Enabled     bool
	// Timeout in seconds. Zero means DefaultTimeout.
	Timeout int
	EnvKeys []EnvKey
	Launch  Launch
	// Required marks a protected built-in: the last enabled required entry
	// cannot be removed or disabled.
	Required bool
	// Bundled marks entries shipped with the application.
	Bundled bool

	seq int64
}

// EnvKey is a setting an extension reads.
type EnvKey struct {
	Name     string
	Secret   bool
	Required bool
	// Default is written at install time when the key is not already set.
	Default *config.Value
}

// Namespace returns the store namespace the key lives in.
func (k EnvKey) Namespace() config.Namespace {
	if k.Secret {
		return config.Secret
	}
	return config.Plain
}

// EffectiveTimeout returns Timeout or DefaultTimeout.
func (e Entry) EffectiveTimeout() int {
	if e.Timeout == 0 {
		return DefaultTimeout
	}
	return e.Timeout
}

// EnvKey returns the declared key with the given name.
func (e Entry) EnvKey(name string) (EnvKey, bool) {
	for _, k := range e.EnvKeys {
		if k.Name == name {
			return k, true
		}
	}
	return EnvKey{}, false
}

func (e Entry) envKeyNames() []string {
	names := make([]string, 0, len(e.EnvKeys))
	for _, k := range e.EnvKeys {
		names = append(names, k.Name)
	}
	return names
}

// Default returns the built-in entry seeded into an empty registry.
func Default() Entry {
	return Entry{
		Name:        DefaultExtension,
		DisplayName: DefaultDisplayName,
		Description: DefaultExtensionDescription,
		Enabled:     true,
		Timeout:     DefaultTimeout,
		Launch:      Builtin{},
		Required:    true,
		Bundled:     true,
	}
}

// Launch describes how an extension is started. It is one of Builtin,
// Stdio, RemoteHTTP or InlinePython.
type Launch interface {
	launchType() string
}

// Builtin runs inside the agent process.
type Builtin struct{}

// Stdio starts a child process and talks over stdin/stdout.
type Stdio struct {
	Command string
	Args    []string
	Envs    map[string]string
	Cwd     string
}

// RemoteHTTP connects to a running server.
type RemoteHTTP struct {
	URL     string
	Headers map[string]string
}

// InlinePython runs embedded Python source.
type InlinePython struct {
	Code         string
	Dependencies []string
}

func (Builtin) launchType() string      { return "builtin" }
func (Stdio) launchType() string        { return "stdio" }
func (RemoteHTTP) launchType() string   { return "remote_http" }
func (InlinePython) launchType() string { return "inline_python" }

// LaunchType returns the persisted name of the launch variant.
func LaunchType(l Launch) string {
	if l == nil {
		return ""
	}
	return l.launchType()
}

// Validate checks the entry before it is persisted.
func (e Entry) Validate() error {
	if !namePattern.MatchString(e.Name) {
		return fmt.Errorf("invalid name %q: use letters, digits, '-' or '_'", e.Name)
	}
	if e.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative, got %d", e.Timeout)
	}
	if err := validateEnvKeys(e.EnvKeys); err != nil {
		return err
	}

	switch l := e.Launch.(type) {
	case Builtin:
	case Stdio:
		if l.Command == "" {
			return errors.New("stdio launch needs a command")
		}
	case RemoteHTTP:
		u, err := url.Parse(l.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("remote launch needs an http(s) URL, got %q", l.URL)
		}
	case InlinePython:
		if l.Code == "" {
			return errors.New("inline python launch needs code")
		}
	case nil:
		return errors.New("launch is required")
	default:
		return fmt.Errorf("unsupported launch %T", l)
	}
	return nil
}

// validateEnvKeys rejects setting names that would address the registry's
// own records: a setting named "extensions.x" would be seeded over, and on
// removal deleted along with, another extension's entry.
func validateEnvKeys(keys []EnvKey) error {
	seen := map[string]bool{}
	for _, k := range keys {
		if strings.TrimSpace(k.Name) == "" {
			return errors.New("env key with empty name")
		}
		if config.Reserved(strings.TrimSpace(k.Name)) {
			return fmt.Errorf("env key %q uses a reserved prefix (%s)", k.Name, strings.Join(config.ReservedPrefixes, ", "))
		}
		if seen[k.Name] {
			return fmt.Errorf("env key %q declared twice", k.Name)
		}
		seen[k.Name] = true
		if k.Default != nil && !k.Default.IsValid() {
			return fmt.Errorf("env key %q has an invalid default", k.Name)
		}
	}
	return nil
}

// toDocument renders the entry as the document stored under its key.
func (e Entry) toDocument() config.Document {
	doc := config.Document{
		"name":         e.Name,
		"display_name": e.DisplayName,
		"description":  e.Description,
		"enabled":      e.Enabled,
		"timeout":      int64(e.Timeout),
		"required":     e.Required,
		"bundled":      e.Bundled,
		"seq":          e.seq,
		"launch":       launchDocument(e.Launch),
	}
	if len(e.EnvKeys) > 0 {
		keys := make([]any, 0, len(e.EnvKeys))
		for _, k := range e.EnvKeys {
			m := map[string]any{
				"name":     k.Name,
				"secret":   k.Secret,
				"required": k.Required,
			}
			if k.Default != nil {
				m["default"] = k.Default.Interface()
			}
			keys = append(keys, m)
		}
		doc["env_keys"] = keys
	}
	return doc
}

func launchDocument(l Launch) map[string]any {
	m := map[string]any{"type": LaunchType(l)}
	switch l := l.(type) {
	case Stdio:
		m["command"] = l.Command
		if len(l.Args) > 0 {
			m["args"] = stringsToAny(l.Args)
		}
		if len(l.Envs) > 0 {
			m["envs"] = stringMapToAny(l.Envs)
		}
		if l.Cwd != "" {
			m["cwd"] = l.Cwd
		}
	case RemoteHTTP:
		m["url"] = l.URL
		if len(l.Headers) > 0 {
			m["headers"] = stringMapToAny(l.Headers)
		}
	case InlinePython:
		m["code"] = l.Code
		if len(l.Dependencies) > 0 {
			m["dependencies"] = stringsToAny(l.Dependencies)
		}
	}
	return m
}

// fromDocument parses a stored entry. The name always comes from the key.
func fromDocument(name string, doc config.Document) (Entry, error) {
	d := fields(doc)
	e := Entry{
		Name:        name,
		DisplayName: d.str("display_name"),
		Description: d.str("description"),
		Enabled:     d.boolean("enabled"),
		Timeout:     int(d.integer("timeout")),
		Required:    d.boolean("required"),
		Bundled:     d.boolean("bundled"),
		seq:         d.integer("seq"),
	}

	for i, raw := range d.list("env_keys") {
		m, ok := raw.(map[string]any)
		if !ok {
			return Entry{}, fmt.Errorf("env_keys[%d]: not a mapping", i)
		}
		kd := fields(m)
		k := EnvKey{Name: kd.str("name"), Secret: kd.boolean("secret"), Required: kd.boolean("required")}
		if def, ok := m["default"]; ok && def != nil {
			v, err := config.FromAny(def)
			if err != nil {
				return Entry{}, fmt.Errorf("env_keys[%d].default: %w", i, err)
			}
			k.Default = &v
		}
		e.EnvKeys = append(e.EnvKeys, k)
	}
	if err := validateEnvKeys(e.EnvKeys); err != nil {
		return Entry{}, err
	}

	launch, err := launchFromDocument(fields(d.mapping("launch")))
	if err != nil {
		return Entry{}, err
	}
	e.Launch = launch
	return e, nil
}

func launchFromDocument(d fields) (Launch, error) {
	switch t := d.str("type"); t {
	case "builtin":
		return Builtin{}, nil
	case "stdio":
		return Stdio{
			Command: d.str("command"),
			Args:    d.strings("args"),
			Envs:    d.stringMap("envs"),
			Cwd:     d.str("cwd"),
		}, nil
	case "remote_http":
		return RemoteHTTP{URL: d.str("url"), Headers: d.stringMap("headers")}, nil
	case "inline_python":
		return InlinePython{Code: d.str("code"), Dependencies: d.strings("dependencies")}, nil
	default:
		return nil, fmt.Errorf("unknown launch type %q", t)
	}
}

// fields reads loosely typed document fields; a hand-edited file may carry
// a missing or mistyped field, which reads as the zero value.
type fields map[string]any

func (f fields) str(k string) string {
	s, _ := f[k].(string)
	return s
}

func (f fields) boolean(k string) bool {
	b, _ := f[k].(bool)
	return b
}

func (f fields) integer(k string) int64 {
	switch n := f[k].(type) {
	case int64:
		return n
	case float64:
		return int64(n)
	}
	return 0
}

func (f fields) list(k string) []any {
	l, _ := f[k].([]any)
	return l
}

func (f fields) mapping(k string) map[string]any {
	m, _ := f[k].(map[string]any)
	return m
}

func (f fields) strings(k string) []string {
	var out []string
	for _, v := range f.list(k) {
		out = append(out, fmt.Sprint(v))
	}
	return out
}

func (f fields) stringMap(k string) map[string]string {
	m := f.mapping(k)
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for key, v := range m {
		out[key] = fmt.Sprint(v)
	}
	return out
}

func stringsToAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func stringMapToAny(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func sortBySeq(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].seq != entries[j].seq {
			return entries[i].seq < entries[j].seq
		}
		return entries[i].Name < entries[j].Name
	})
}
