// Package timeouts defines shared timeout constants used across the engine
// runtime. Centralizing these values prevents drift between components and
// makes the durations discoverable.
package timeouts

import "time"

// SweepInterval is how often the scheduler scans for expired reply deadlines.
const SweepInterval = 1 * time.Second

// Shutdown limits how long the runtime waits for in-flight work during
// graceful shutdown.
const Shutdown = 5 * time.Second
