// Package logging configures structured logging on top of log/slog.
//
// # Overview
//
// New builds a *slog.Logger from a Config. Two handlers wrap the chosen
// JSON or text handler:
//
//   - contextHandler copies the request ID and subject key stored in the
//     record's context into the record, so slog.InfoContext(ctx, ...) calls
//     anywhere in the process carry them.
//   - redaction, applied through HandlerOptions.ReplaceAttr, masks emails,
//     bearer tokens, API keys and IP addresses when RedactPII is enabled.
//
// # Usage
//
//	logger, err := logging.New(logging.Config{Level: "info", Format: "json", RedactPII: true})
//	if err != nil {
//	    return err
//	}
//	slog.SetDefault(logger.Slog())
//
//	ctx = logging.WithRequestID(ctx, "req-123")
//	ctx = logging.WithSubject(ctx, "user:42")
//	slog.InfoContext(ctx, "request admitted") // request_id and subject included
//
// Components that own a logger derive it from slog.Default() with a
// "component" attribute, so SetDefault must run before they are built.
package logging
