// Package domain defines the engagement engine's pure rules and entities:
// critical-keyword detection, the reply-deadline override hierarchy, reply
// tone derivation, and the message, session, and interruption types shared
// across the engine. Everything in this package is deterministic and
// side-effect free.
package domain
