// ABOUTME: Outcome values shared by the authentication, wizard and removal flows
// ABOUTME: Names are used as metric labels and log fields

package gatekeeper

// Outcome is how a flow ended.
type Outcome int

const (
	// Authentication
	Verified Outcome = iota + 1
	Denied
	TimedOut
	Undeliverable
	ChannelNotTracked
	LockNotActive

	// Lock creation
	NotAdmin
	NoResponse
	InvalidPassword
	NoRolesSelected
	InvalidChannelCount
	DuplicateLock
	LockCreated

	// Lock removal
	LockNotFound
	LockRemoved

	// Entry point
	OnCooldown
)

var outcomeNames = map[Outcome]string{
	Verified:            "verified",
	Denied:              "denied",
	TimedOut:            "timed_out",
	Undeliverable:       "undeliverable",
	ChannelNotTracked:   "channel_not_tracked",
	LockNotActive:       "lock_not_active",
	NotAdmin:            "not_admin",
	NoResponse:          "no_response",
	InvalidPassword:     "invalid_password",
	NoRolesSelected:     "no_roles_selected",
	InvalidChannelCount: "invalid_channel_count",
	DuplicateLock:       "duplicate_lock",
	LockCreated:         "lock_created",
	LockNotFound:        "lock_not_found",
	LockRemoved:         "lock_removed",
	OnCooldown:          "on_cooldown",
}

// String returns the snake_case outcome name used in logs and metrics.
func (o Outcome) String() string {
	if name, ok := outcomeNames[o]; ok {
		return name
	}
	return "unknown"
}

// Success reports whether the outcome is the flow's happy path.
func (o Outcome) Success() bool {
	return o == Verified || o == LockCreated || o == LockRemoved
}
