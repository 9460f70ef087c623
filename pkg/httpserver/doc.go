// Package httpserver runs an http.Handler with configurable timeouts and
// graceful shutdown, and provides the JSON health endpoint.
//
// Run binds the address first, so a port already in use is reported as
// ErrStart instead of surfacing later from a goroutine. It then serves until
// the context is cancelled (main wires this to SIGINT and SIGTERM) and
// drains in-flight requests for up to the shutdown timeout.
//
//	srv := httpserver.NewFromConfig(cfg, httpserver.WithLogger(log))
//	if err := srv.Run(ctx, router); err != nil {
//		return err
//	}
package httpserver
