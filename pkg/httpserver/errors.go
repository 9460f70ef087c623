package httpserver

import "errors"

var (
	// ErrStart wraps bind failures and serve errors other than a clean close.
	ErrStart    = errors.New("httpserver: serve")
	ErrShutdown = errors.New("httpserver: graceful shutdown")
)
