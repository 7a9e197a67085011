package main

import (
	"net/http"

	"go.uber.org/zap"

	"photoprint/middleware"
)

func middlewareChain(h http.Handler, logger *zap.Logger) http.Handler {
	h = middleware.Logging(logger)(h)
	h = middleware.Recovery(logger)(h)
	h = middleware.TraceID(h)
	return h
}
