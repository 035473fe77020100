// Package notifier fans meeting notifications out to participants.
//
// A batch is sent serially in recipient order behind a shared token bucket
// so the external provider never sees a burst. Each recipient gets the full
// template first and, when that fails, one immediate retry with a shorter
// fallback template. One recipient's failure never aborts the batch: the
// Result lists who failed and why.
//
// # Participant state
//
// After a batch the dispatcher patches the participants that succeeded:
// invitations stamp InvitedAt, reminders bump ReminderCount and mark the
// participant reminded. Failures leave state untouched so a batch can be
// re-run safely. The patch is written with the meeting repository's version
// check and re-applied on conflict.
//
// # Events
//
// Every attempt publishes notifier.sent or notifier.failed on the event bus.
package notifier
