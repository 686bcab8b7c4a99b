// Package session implements the per-session actor: the single-writer state
// machine that owns one conversation's transcript and profile, drives
// generation, and hands off summarization to the workflow engine.
//
// All operations against a session are serialized through its actor's
// mailbox goroutine. Across sessions, actors run independently.
package session
