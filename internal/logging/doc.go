// Package logging provides structured logging for udpdiscover.
//
// This package wraps the zap logger. Library packages never reach for a
// global logger: they receive a *zap.Logger in their constructors. The CLI
// builds that logger here, from the --log-level flag or the
// UDPDISCOVER_LOG_LEVEL environment variable, and passes named children of
// it down.
//
// # Log Levels
//
//   - Debug: socket binds, hello transmission, receive loop start/stop
//   - Info: received datagrams (with hex and ASCII payload dumps)
//   - Warn: interfaces skipped because they could not be bound
//   - Error: unexpected transport failures
//
// # Configuration
//
//	if err := logging.Initialize("debug"); err != nil {
//	    log.Fatal(err)
//	}
//	defer logging.Sync()
//
//	detector := discovery.New(source, logging.Named("discovery"))
//
// When no level is configured the global logger is a no-op, so the CLI stays
// quiet unless asked otherwise.
//
// # Payload Dumps
//
// PayloadFields renders opaque datagram contents for log lines:
//
//	logger.Info("Datagram received", logging.PayloadFields(data)...)
//
// Dumps are capped at 256 bytes.
package logging
