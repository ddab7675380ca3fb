// Package logging builds the process logger.
//
// Loggers are plain *slog.Logger values. The handler returned by New adds
// the index id, checkpoint sequence and prune batch id carried by a context
// to every record logged with one of the *Context methods:
//
//	logger, err := logging.New(cfg.Telemetry.Logging, os.Stderr)
//	ctx = logging.WithIndexID(ctx, "primary")
//	logger.InfoContext(ctx, "checkpoint started") // index_id=primary
//
// Components log with a "component" attribute and snake_case keys.
package logging
