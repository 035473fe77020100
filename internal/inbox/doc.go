// Package inbox keeps a per-recipient view of stored notifications fresh.
//
// A Poller lists the newest notifications on a fixed interval, retries
// transient read failures with backoff and gives up after the policy is
// exhausted until Retry is called. Mark-read is two-phase: the local view
// flips first and the store write is reconciled on a later poll when it
// fails.
package inbox
