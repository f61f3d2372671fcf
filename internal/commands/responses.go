// ABOUTME: Channel notices describing how each command ended
// ABOUTME: Every terminal outcome maps to one notice telling the user what happened and what to do next

package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/2389/policebot/internal/gatekeeper"
	"github.com/2389/policebot/internal/notice"
)

// How long channel notices stay up before the bot deletes them.
const (
	shortTTL  = 30 * time.Second
	mediumTTL = 60 * time.Second
	longTTL   = 120 * time.Second
)

func (r *Router) cmd(name string) string {
	return "`" + r.opts.Prefix + name + "`"
}

// withExpiry tells readers when the notice will disappear.
func withExpiry(n notice.Notice, ttl time.Duration) notice.Notice {
	expiry := fmt.Sprintf("This message will be deleted in %s.", notice.FormatDuration(ttl))
	if n.Footer == "" {
		return n.WithFooter(expiry)
	}
	return n.WithFooter(n.Footer + " " + expiry)
}

func serverOnlyNotice() notice.Notice {
	return notice.New(notice.Error, "Server only",
		"That command only works inside a server channel.")
}

func apologyNotice() notice.Notice {
	return notice.New(notice.Error, "Something went wrong",
		"Sorry, I couldn't finish that. Try again later.\n"+
			"If this keeps happening, make sure I'm allowed to send, read and manage messages and to manage roles here.")
}

func (r *Router) cooldownNotice(inv Invocation, wait time.Duration) notice.Notice {
	return notice.New(notice.Warning, "Command on cooldown",
		fmt.Sprintf("Sorry %s, you're doing that too often. You may use %s again in %s.",
			inv.UserMention, r.cmd("a"), notice.FormatDuration(wait)))
}

func (r *Router) authNotice(inv Invocation, res *gatekeeper.AuthResult) (notice.Notice, time.Duration) {
	switch res.Outcome {
	case gatekeeper.ChannelNotTracked:
		return notice.New(notice.Error, "This channel isn't locked",
			"This channel doesn't have an active lock message. Run the command in the channel where I posted the unlock instructions."), shortTTL

	case gatekeeper.LockNotActive:
		return notice.New(notice.Error, "Lock not active",
			"This channel's lock is currently disabled."), shortTTL

	case gatekeeper.Undeliverable:
		return notice.New(notice.Error, "I can't message you",
			fmt.Sprintf("%s, I couldn't send you a private message. Allow direct messages from server members and run %s again.",
				inv.UserMention, r.cmd("a"))), mediumTTL

	case gatekeeper.TimedOut:
		return notice.New(notice.Warning, "Password check timed out",
			fmt.Sprintf("%s, I didn't get your password in time. Run %s again for a new chance.",
				inv.UserMention, r.cmd("a"))), mediumTTL

	case gatekeeper.Denied:
		n := notice.New(notice.Error, "✋ Access denied",
			fmt.Sprintf("Sorry %s, that wasn't the right password.", inv.UserMention))
		if res.RetryAfter > 0 {
			n = n.WithFooter(fmt.Sprintf("You may try again in %s.", notice.FormatDuration(res.RetryAfter)))
		}
		return n, longTTL

	case gatekeeper.Verified:
		if len(res.GrantedRoles) == 0 && len(res.FailedRoles) > 0 {
			return notice.New(notice.Error, "Password accepted, but no roles granted",
				fmt.Sprintf("%s, your password was right but I couldn't grant any of this lock's roles.", inv.UserMention)).
				WithField("Roles not granted",
					fmt.Sprintf("%s\nAsk a server admin to check that my role is above these roles and that I can manage roles, then run %s again.",
						r.roleList(res.FailedRoles), r.cmd("a"))), longTTL
		}
		n := notice.New(notice.Success, "✅ Password accepted",
			fmt.Sprintf("You're in, %s! I've granted the roles behind this lock.", inv.UserMention))
		if len(res.FailedRoles) > 0 {
			n = n.WithField("Some roles could not be granted",
				fmt.Sprintf("%s\nAsk a server admin to check that my role is above these roles.", r.roleList(res.FailedRoles)))
		}
		return n, longTTL

	default:
		return apologyNotice(), mediumTTL
	}
}

func (r *Router) createLockNotice(inv Invocation, res *gatekeeper.CreateLockResult) notice.Notice {
	restart := fmt.Sprintf("Run %s to start over.", r.cmd("al"))
	switch res.Outcome {
	case gatekeeper.NotAdmin:
		return notAdminNotice()

	case gatekeeper.NoResponse:
		return notice.New(notice.Warning, "No response",
			fmt.Sprintf("%s, you didn't answer my question. You get %s for each step. %s",
				inv.UserMention, notice.FormatDuration(r.service.Options().PromptTimeout), restart))

	case gatekeeper.InvalidPassword:
		return notice.New(notice.Error, "Password not usable",
			"The password must not be empty and must be at most 72 bytes long. "+restart)

	case gatekeeper.NoRolesSelected:
		return notice.New(notice.Error, "No roles mentioned",
			"You didn't mention any roles to award. A lock needs at least one role to hand out. "+restart)

	case gatekeeper.InvalidChannelCount:
		return notice.New(notice.Error, "Mention exactly one channel",
			"Please mention one channel for me to post the lock message in. "+restart)

	case gatekeeper.DuplicateLock:
		return notice.New(notice.Error, "Channel already locked",
			fmt.Sprintf("%s already has a lock message. Each channel can have only one lock. %s",
				r.responder.MentionChannel(res.ChannelID), restart))

	case gatekeeper.LockCreated:
		n := notice.New(notice.Success, "✅ Lock created",
			fmt.Sprintf("I posted the unlock instructions in %s.", r.responder.MentionChannel(res.ChannelID)))
		if res.Lock != nil {
			n = n.WithField("Roles awarded", r.roleList(res.Lock.RoleIDs()))
		}
		return n.WithFooter(fmt.Sprintf("Run %s in that channel to remove the lock.", r.cmd("rl")))

	default:
		return apologyNotice()
	}
}

func (r *Router) removeLockNotice(res *gatekeeper.RemoveLockResult) notice.Notice {
	switch res.Outcome {
	case gatekeeper.NotAdmin:
		return notAdminNotice()

	case gatekeeper.LockNotFound:
		return notice.New(notice.Error, "No lock found for this channel",
			"Run this command in the channel where I posted the unlock instructions.")

	case gatekeeper.LockRemoved:
		n := notice.New(notice.Success, "✅ Lock removed",
			"I'm no longer tracking the password lock for this channel.")
		if res.AnnouncementErr != nil {
			n = n.WithField("Lock message still here",
				"I couldn't delete my earlier lock message. You can delete it yourself.")
		}
		return n.WithFooter(fmt.Sprintf("Want a new lock? Use %s.", r.cmd("al")))

	default:
		return apologyNotice()
	}
}

func notAdminNotice() notice.Notice {
	return notice.New(notice.Error, "You are not a server admin",
		"Only server admins can add or remove locks.")
}

func (r *Router) helpNotice() notice.Notice {
	return notice.New(notice.Info, "Help",
		"I lock roles behind a password. Members who know the password get the roles.").
		WithField("Lock a set of roles with a password",
			fmt.Sprintf("Run %s or %s in any channel to start the setup.", r.cmd("al"), r.cmd("add_lock"))).
		WithField("Remove an existing lock",
			fmt.Sprintf("Run %s or %s in the channel with my lock message.", r.cmd("rl"), r.cmd("remove_lock"))).
		WithField("Unlocking",
			fmt.Sprintf("Run %s or %s in the channel with my lock message and I'll ask you for the password privately.", r.cmd("a"), r.cmd("authenticate"))).
		WithField("Permissions",
			"Every member can try to authenticate, but only admins can add or remove locks.").
		WithField("Invite link",
			fmt.Sprintf("Invite me to your own server with %s or %s.", r.cmd("il"), r.cmd("invite_link")))
}

func pingNotice(latency time.Duration) notice.Notice {
	body := "Pong!"
	if latency > 0 {
		body = fmt.Sprintf("Pong! Gateway latency is about `%d ms`.", latency.Milliseconds())
	}
	return notice.New(notice.Info, "Hey there 👋", body)
}

func (r *Router) inviteNotice() notice.Notice {
	if r.opts.InviteLink == "" {
		return notice.New(notice.Info, "Invite link", "This instance has no public invite link.")
	}
	return notice.New(notice.Info, "Invite link", "Here is an invite link for me!").
		WithField("Link", r.opts.InviteLink)
}

func (r *Router) roleList(roleIDs []string) string {
	mentions := make([]string, len(roleIDs))
	for i, id := range roleIDs {
		mentions[i] = r.responder.MentionRole(id)
	}
	return strings.Join(mentions, ", ")
}
