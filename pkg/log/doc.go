/*
Package log provides structured logging via zerolog.

The log package wraps zerolog to provide JSON-structured logging with
component-specific child loggers, configurable log levels, and helper
functions for common logging patterns.

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true, Output: os.Stdout})

	volLog := log.WithVolume("vol-0")
	volLog.Info().Int("target", 3).Msg("volume configured")

	replicaLog := log.WithReplica("base-1")
	replicaLog.Error().Err(err).Msg("replica unreachable")

	threadLog := log.WithThread("thread-2")
	threadLog.Debug().Msg("processing mailbox")

# Context Loggers

  - WithComponent: tag logs with a subsystem name (registry, quiesce, io)
  - WithVolume: tag logs with a volume name
  - WithReplica: tag logs with a base replica handle
  - WithThread: tag logs with the owning thread's name

Prefer a context logger over the global Logger whenever the call site has
a volume, replica, or thread in scope — it is cheap (one allocation) and
makes log aggregation queries trivial to write.
*/
package log
