// Package cooldown rate limits commands per key (usually a user id) with a
// fixed window: after a successful Try, the key is refused until the period
// has elapsed.
package cooldown
