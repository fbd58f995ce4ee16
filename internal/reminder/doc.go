// Package reminder holds the reminder entity, its storage schema, the
// write-through owner cache and the firing state machine (Processor).
//
// A reminder fires when NextExpiresAt passes. Firing reschedules first
// (commit before delivery, at-least-once), then resolves the owner and
// destination, then delivers or invokes. Failures follow a fixed taxonomy:
// most are terminal and delete the reminder; an unavailable command
// preserves it for inspection.
package reminder
