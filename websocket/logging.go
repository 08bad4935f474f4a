package websocket

import (
	"github.com/rs/zerolog"
)

// newLogger returns a child logger tagged with the connection's
// correlation id. Connections are constructed with zerolog.Nop() by
// default (see New), so library consumers who never configure logging
// pay no logging cost and get no output; call SetLogger to inject a real
// one before Connect.
func newLogger(base zerolog.Logger, connID string) zerolog.Logger {
	return base.With().Str("conn_id", connID).Logger()
}
