package bot

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"fwdbot/internal/engine/broadcast"
	"fwdbot/internal/task"
)

const (
	startText = "<b>Hi!</b>\n" +
		"I move messages between channels you control.\n\n" +
		"/forward — copy or forward a channel's history\n" +
		"/unequify — delete duplicate files in a channel\n" +
		"/settings — tune filters, caption and buttons\n" +
		"/cancel — stop the running task"

	helpText = "<b>Commands</b>\n" +
		"/forward — start a history transfer. I will ask for the source " +
		"channel, the target and how many messages to skip.\n" +
		"/unequify — scan a channel and delete duplicate files.\n" +
		"/settings — per-user options: media filters, custom caption, " +
		"an url button, protected content, forward-with-tag and " +
		"duplicate skipping.\n" +
		"/cancel — request cancellation of your running task."

	askSourceText = "Forward the <b>last message</b> from the source " +
		"channel here, or send its @username or id."
	askTargetText = "Now the <b>target</b> chat: forward a message from it, or send its @username or id."
	askSkipText   = "How many messages should I <b>skip</b> from the start? Send a number, 0 for none."

	askDedupChatText = "Which channel should I scan for duplicates? " +
		"Forward a message from it, or send its @username or id."

	busyText        = "You already have a running task. /cancel it first."
	timeoutText     = "Took too long, dialog closed. Start over when ready."
	badChatText     = "That does not look like a chat I can use. Start over."
	badSkipText     = "That is not a number. Start over."
	cannotReadText  = "I cannot read that chat. Add me there first."
	cannotWriteText = "I cannot post in that chat. Make me an admin there first."
	abortedText     = "Okay, nothing started."
	startedText     = "Started. I will keep the status message below fresh."
)

func renderForwardConfirm(cv *conversation) string {
	var b strings.Builder
	b.WriteString("<b>Ready to forward</b>\n")
	fmt.Fprintf(&b, "From: <code>%s</code>\n", cv.source.String())
	fmt.Fprintf(&b, "To: <code>%s</code>\n", cv.target.String())
	fmt.Fprintf(&b, "Skip: %s\n", humanize.Comma(int64(cv.skip)))
	if cv.total > 0 {
		fmt.Fprintf(&b, "Messages: about %s\n", humanize.Comma(int64(cv.total)))
	}
	b.WriteString("Start now?")
	return b.String()
}

func renderDedupConfirm(cv *conversation) string {
	return fmt.Sprintf("<b>Ready to clean</b>\nChat: <code>%s</code>\n"+
		"Duplicate files will be <b>deleted</b>. Start now?", cv.target.String())
}

func renderUsers(n int) string {
	return fmt.Sprintf("<b>%s</b> users know me.", humanize.Comma(int64(n)))
}

var outcomeHeads = map[task.Outcome]string{
	task.Running:   "⏳ <b>Working</b>",
	task.Completed: "✅ <b>Completed</b>",
	task.Cancelled: "🚫 <b>Cancelled</b>",
	task.Failed:    "⚠️ <b>Failed</b>",
}

// renderProgress formats one status snapshot. The layout is stable so
// consecutive edits only change the numbers.
func renderProgress(snap task.Snapshot, out task.Outcome) string {
	var b strings.Builder
	b.WriteString(outcomeHeads[out])
	b.WriteString("\n")
	if snap.Kind == task.KindDedup {
		fmt.Fprintf(&b, "Chat: <code>%s</code>\n", snap.Target)
		fmt.Fprintf(&b, "Scanned: %s\n", humanize.Comma(int64(snap.Fetched)))
		fmt.Fprintf(&b, "Deleted: %s\n", humanize.Comma(int64(snap.Skipped)))
	} else {
		fmt.Fprintf(&b, "From <code>%s</code> to <code>%s</code>\n", snap.Source, snap.Target)
		fmt.Fprintf(&b, "Fetched: %s of %s (%.1f%%)\n",
			humanize.Comma(int64(snap.Fetched)), humanize.Comma(int64(snap.Total)), snap.Percent)
		fmt.Fprintf(&b, "Forwarded: %s\n", humanize.Comma(int64(snap.Forwarded)))
		if snap.Duplicate > 0 {
			fmt.Fprintf(&b, "Duplicates: %s\n", humanize.Comma(int64(snap.Duplicate)))
		}
		if snap.Filtered > 0 {
			fmt.Fprintf(&b, "Filtered: %s\n", humanize.Comma(int64(snap.Filtered)))
		}
		if snap.Skipped > 0 {
			fmt.Fprintf(&b, "Skipped: %s\n", humanize.Comma(int64(snap.Skipped)))
		}
	}
	if out == task.Running {
		fmt.Fprintf(&b, "Rate: %.1f msg/s\n", snap.Rate)
		if snap.ETA > 0 {
			fmt.Fprintf(&b, "ETA: %s\n", shortDuration(snap.ETA))
		}
	} else {
		fmt.Fprintf(&b, "Took: %s\n", shortDuration(snap.Elapsed))
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderBroadcastSummary(sum broadcast.Summary, done bool) string {
	head := "⏳ <b>Broadcasting</b>"
	if done {
		head = "✅ <b>Broadcast finished</b>"
	}
	return fmt.Sprintf("%s\nReached: %s of %s\nSent: %s · Blocked: %s · Deleted: %s · Failed: %s\nTook: %s",
		head,
		humanize.Comma(int64(sum.Done)), humanize.Comma(int64(sum.Total)),
		humanize.Comma(int64(sum.Success)), humanize.Comma(int64(sum.Blocked)),
		humanize.Comma(int64(sum.Deleted)), humanize.Comma(int64(sum.Failed)),
		shortDuration(sum.Elapsed))
}

// shortDuration trims sub-second noise from user-facing durations.
func shortDuration(d time.Duration) string {
	if d < time.Second {
		return "under a second"
	}
	return d.Round(time.Second).String()
}
