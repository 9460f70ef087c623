// Package alert notifies operators when background work gives up.
//
// PostmarkNotifier emails plain-text alerts through Postmark; LogNotifier
// writes them to the log when no mail transport is configured. DeadLetterHook
// adapts any Notifier to a queue.DeadLetterHook so provider events that could
// not be applied reach a human.
package alert
