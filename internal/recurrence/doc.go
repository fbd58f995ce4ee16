// Package recurrence computes next-trigger times for repeating reminders.
//
// A Rule is one of three kinds: a calendar-aware fixed interval, a cron
// expression, or an RFC 5545 RRULE string. Rules are value types; Next
// returns the advanced copy instead of mutating in place, so callers own
// the bookkeeping explicitly.
package recurrence
