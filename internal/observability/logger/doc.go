// Package logger wraps zap behind a small surface: a process-wide singleton
// configured once at startup, context propagation for request-scoped loggers,
// and typed field helpers so call sites stay consistent.
//
// Usage:
//
//	logger.Init(logger.Config{Env: "prod", Level: "info"})
//	defer logger.Sync()
//
//	log := logger.From(ctx).With(logger.Layer("service"), logger.Op("oauth.token"))
//	log.Info("token issued", logger.ClientID(id))
package logger
