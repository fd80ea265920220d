// Package logging builds relay's process logger.
//
// Components log through *slog.Logger values derived with
// logger.With("component", ...). The handler built here adds the request
// identity carried by the context (request_id, user, agent, provider and the
// active trace id) to every record logged with a *Context method:
//
//	ctx = logging.WithRequestID(ctx, id)
//	ctx = logging.WithUser(ctx, userID)
//	logger.InfoContext(ctx, "request admitted")
//
// When telemetry.logging.redact_pii is set, e-mail addresses, API keys and
// bearer tokens are masked in string values before they are written.
package logging
