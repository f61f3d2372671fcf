// Package commands turns chat messages into gatekeeper flows.
//
// A Router recognises prefixed commands such as "?a" or "?add_lock", applies
// the per-user authentication cooldown, runs the matching flow and posts a
// channel notice describing how it ended. Unexpected errors are logged and
// answered with a generic apology so a failing command never goes silent.
package commands
