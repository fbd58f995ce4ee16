// Package commands parses chat messages into bot commands and runs them.
//
// The router doubles as the executor for command-kind reminders: a stored
// command line goes through the same registration lookup and operator check
// as a live message, so revoking an operator also disables their scheduled
// commands.
package commands
