package websocket

import (
	"net/http"

	"github.com/rs/zerolog"
)

// Option configures a WebSocket connection before Connect is called.
// Each of the exported SetXxx methods is a thin wrapper around applying
// one Option, grounded on the functional-option pattern used throughout
// the example pack's browser/session configuration.
type Option func(*WebSocket)

func withHeader(h http.Header) Option {
	return func(ws *WebSocket) { ws.header = h.Clone() }
}

func withLogger(logger zerolog.Logger) Option {
	return func(ws *WebSocket) { ws.logger = newLogger(logger, ws.connID) }
}

func withOrigin(origin string) Option {
	return func(ws *WebSocket) { ws.origin = origin }
}

func withExecutor(e Executor) Option {
	return func(ws *WebSocket) { ws.executor = e }
}

func withVoIP(enabled bool) Option {
	return func(ws *WebSocket) { ws.voipEnabled = enabled }
}

func withAllowSelfSigned(allow bool) Option {
	return func(ws *WebSocket) { ws.allowSelfSigned = allow }
}

func withTrustValidator(fn TrustValidator) Option {
	return func(ws *WebSocket) { ws.trustValidator = fn }
}

func withCipherSuites(suites []uint16) Option {
	return func(ws *WebSocket) { ws.cipherSuites = append([]uint16(nil), suites...) }
}

// apply runs opts against ws in order. It performs no state check itself;
// the exported setters check for the pre-Connect state before calling it.
func (ws *WebSocket) apply(opts ...Option) {
	for _, opt := range opts {
		opt(ws)
	}
}
