// ABOUTME: Notices the gatekeeper flows send on their own: challenges, prompts and announcements
// ABOUTME: Channel notices describing a flow's final outcome are rendered by the command router

package gatekeeper

import (
	"fmt"

	"github.com/2389/policebot/internal/notice"
	"github.com/2389/policebot/internal/store"
)

func (s *Service) command(name string) string {
	return "`" + s.opts.CommandPrefix + name + "`"
}

func (s *Service) challengeNotice(req AuthRequest) notice.Notice {
	return notice.New(notice.Info, "🔒 Password check",
		fmt.Sprintf("Hi %s, you asked to unlock a channel in **%s**. Reply to this message with the password.\n\n"+
			"You have **%s** to answer. After that, run %s in the channel again.",
			req.UserMention, req.GuildName, notice.FormatDuration(s.opts.AuthTimeout), s.command("a"))).
		WithFooter("Only your next private message counts. Don't authenticate in two servers at once.")
}

func (s *Service) challengeTimedOutNotice() notice.Notice {
	return notice.New(notice.Warning, "Too slow",
		fmt.Sprintf("I didn't get a password in time. Go back to the channel and run %s for a new chance.", s.command("a")))
}

func (s *Service) deniedNotice(req AuthRequest) notice.Notice {
	n := notice.New(notice.Error, "✋ Access denied",
		fmt.Sprintf("Sorry %s, that wasn't the right password.", req.UserMention))
	if s.opts.RetryCooldown > 0 {
		n = n.WithFooter(fmt.Sprintf("You may try again in %s.", notice.FormatDuration(s.opts.RetryCooldown)))
	}
	return n
}

func (s *Service) verifiedNotice(req AuthRequest, res *AuthResult) notice.Notice {
	switch {
	case len(res.FailedRoles) == 0:
		return notice.New(notice.Success, "✅ Password accepted",
			fmt.Sprintf("You're in, %s! Your roles have been granted.", req.UserMention))
	case len(res.GrantedRoles) == 0:
		return notice.New(notice.Error, "Password accepted, but no roles granted",
			fmt.Sprintf("%s, your password was right but I couldn't grant you any roles. Please ask a server admin to check my role permissions.", req.UserMention))
	default:
		return notice.New(notice.Warning, "✅ Password accepted",
			fmt.Sprintf("You're in, %s! Some roles could not be granted. Please ask a server admin to check my role permissions.", req.UserMention))
	}
}

func (s *Service) alreadyAuthenticatedNotice(req AuthRequest) notice.Notice {
	return notice.New(notice.Info, "Already authenticated",
		fmt.Sprintf("%s, you already passed this lock. I'll check your password again and re-grant any missing roles.", req.UserMention))
}

func (s *Service) passwordPrompt() notice.Notice {
	return notice.New(notice.Info, "Step 1 of 4: Password",
		"Let's set up a lock. **What should the password be?** Reply with it below.").
		WithFooter("Only a one-way hash of the password is stored. Your reply is deleted once read.")
}

func (s *Service) rolesPrompt() notice.Notice {
	return notice.New(notice.Info, "Step 2 of 4: Roles",
		"Which roles should members get when they enter the right password? **Mention every role** in one message.")
}

func (s *Service) channelPrompt() notice.Notice {
	return notice.New(notice.Info, "Step 3 of 4: Channel",
		"Mention **one channel** where I should post the instructions for unlocking.").
		WithFooter("Members run the unlock command in that channel.")
}

func (s *Service) customMessagePrompt() notice.Notice {
	return notice.New(notice.Info, "Step 4 of 4: Custom message",
		"Write a message to show alongside the unlock instructions.").
		WithFooter(fmt.Sprintf("Reply %q to skip the custom message.", store.NoCustomMessage))
}

func (s *Service) announcementNotice(req CreateLockRequest, customMessage string) notice.Notice {
	n := notice.New(notice.Info, "📢 This channel is password protected",
		fmt.Sprintf("Access to some roles here is protected by a password set by %s.", req.UserMention))
	if customMessage != "" {
		n = n.WithField("Message from "+req.UserName, customMessage)
	}
	return n.WithField("🔒 How do I get access?",
		fmt.Sprintf("Run %s in this channel and I will ask you for the password in a private message.", s.command("a")))
}
