// Package logging provides structured logging for tabula.
//
// # Overview
//
// The logging package wraps Go's standard log/slog package to provide:
//   - Structured logging with JSON, text, and console formats
//   - Size-based log file rotation (gopkg.in/natefinch/lumberjack.v2)
//   - Context-aware logging with request, job, export and trace identifiers
//   - Redaction of credentials embedded in DSNs and connection strings
//
// # Usage
//
//	logger, err := logging.New(logging.Config{
//	    Level:         "info",
//	    Format:        "json",
//	    RedactSecrets: true,
//	})
//	if err != nil {
//	    return err
//	}
//	defer logger.Shutdown()
//	logger.SetDefault()
//
//	ctx = logging.WithJobID(ctx, job.ID)
//	slog.InfoContext(ctx, "Job started")  // Includes job_id automatically
//
// Components obtain their logger from slog.Default().With("component", ...),
// so installing the logger with SetDefault is enough for context fields and
// redaction to apply everywhere.
package logging
