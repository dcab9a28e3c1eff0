// Package config is the key-value configuration store for the agent.
//
// Keys live in one of two namespaces. Plain values are kept in a
// human-editable YAML file (config.yaml in the config directory); secrets are
// kept in the platform keyring, or in an encrypted file when no keyring is
// available. The two namespaces are independent: "api_key" may exist in both.
//
// # Resolution
//
// A plain Get resolves in order:
//
//  1. The environment variable named by EnvName: the prefix (default
//     "AGENT_") followed by the key uppercased, every character outside
//     [A-Z0-9] replaced by "_". A dotenv file may supply further variables;
//     the real environment wins.
//  2. The stored value.
//  3. ErrNotFound, or the caller's default with GetWithDefault.
//
// Secrets never consult the environment, and neither do keys under
// Options.EnvExempt ("permissions." by default).
//
// # Values
//
// A Value is a string, int64, float64, bool or structured document. The YAML
// encoding preserves the kind across restarts: 1.0 stays a float and "true"
// stays a string.
//
// # Durability
//
// Every plain write is a locked read-modify-write of the whole file, written
// to a temporary file and renamed into place, so concurrent writers of
// different keys never lose each other's updates and a crash leaves either
// the old or the new file. The previous contents are kept in config.yaml.bak
// and used when the file no longer parses. A file that does not parse never
// replaces the backup.
//
// # Errors
//
// Failures are *Error values. Match them with errors.Is against ErrNotFound,
// ErrConflict, ErrUnknownKey, ErrProtectedExtension, ErrPersistence,
// ErrDegradedSecretStorage and ErrInvalidValue.
package config
