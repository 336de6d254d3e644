/*
Package log provides structured logging for cargohold using zerolog.

A single global Logger is initialized once via Init and used throughout
the process. WithComponent attaches a "component" field and returns a
child logger rather than mutating shared state, so callers can freely
derive a scoped logger without synchronization.

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true, Output: os.Stdout})

	compLog := log.WithComponent("publish")
	compLog.Info().Str("crate", name).Msg("publish accepted")
*/
package log
