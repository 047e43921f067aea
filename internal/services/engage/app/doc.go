// Package app orchestrates the engagement engine: it sequences detection,
// persistence, session interruption, reply-deadline scheduling, and operator
// notification for inbound messages, and owns the runtime wiring that serves
// the engine as a process.
package app
