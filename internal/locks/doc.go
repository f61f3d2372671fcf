// Package locks manages the password locks configured for each guild.
//
// Registry is the only writer of guild configurations. Every
// read-modify-write runs under a mutex held per guild, so two concurrent
// edits to the same guild cannot lose each other's changes. Locks are
// identified by channel id.
package locks
