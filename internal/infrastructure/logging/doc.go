// Package logging provides structured logging for the Gray Logic recorder.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the recorder, the history
// engine and the infrastructure adapters.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr, discard
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	writerLog := logger.Component("writer")
//	writerLog.Error("commit failed", "entity_id", id, "error", err)
//
// Never log secrets, tokens or passwords.
package logging
