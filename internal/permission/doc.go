// Package permission decides whether an extension's tool may run.
//
// Each extension has at most one stored record, kept in the config store
// under "permissions.<extension>":
//
//	permissions.web:
//	  default: ask_once
//	  tools:
//	    fetch: always_allow
//	    "write_*": deny
//
// A tool's level is its own record, else the most specific matching
// wildcard record, else the extension default, else the manager default
// (ask_once).
//
// # Decisions
//
//	always_allow    -> allow
//	deny            -> deny
//	ask_every_time  -> require confirmation
//	ask_once        -> require confirmation the first time in a session, allow afterwards
//
// The "ask once" memo lives in the Manager and is never persisted: a new
// Manager, or ResetSession, starts a new session. Changing a level forgets
// the memo entries it affects.
//
// Decide fails closed: when the records cannot be read or written it
// returns DecisionDeny together with the error.
package permission
