// Package logger builds log/slog loggers for the service.
//
// New applies functional options (level, format, output, static attributes)
// and wraps the handler with LogHandlerDecorator, which injects request-scoped
// attributes such as the request id through ContextExtractor callbacks.
//
// attr.go holds constructors for the attributes the service logs most
// (UserID, EventID, SubscriptionID, Watermark, Error, ...) so keys stay
// consistent. Constructors for optional values return an empty slog.Attr
// when the value is missing, which slog drops:
//
//	log.InfoContext(ctx, "subscription record updated",
//	    logger.UserID(userID),
//	    logger.Watermark(wm),
//	    logger.Error(err))
package logger
