// Package gatekeeper implements the interactive flows behind password locks:
// authenticating a member against a lock, the admin wizard that creates a
// lock, and lock removal.
//
// # Outcomes
//
// Every expected ending of a flow (wrong password, no reply in time, not an
// admin, and so on) is reported as an Outcome in the flow's result. A non-nil
// error means something unexpected failed, such as the store being unreadable;
// callers log it and show a generic apology.
//
// # Platform
//
// The flows never talk to a chat service directly. They use the Platform
// interface for private messages, channel posts, message deletion and role
// grants, and a Prompter for the wizard's questions. The discord and matrix
// adapters implement both.
package gatekeeper
