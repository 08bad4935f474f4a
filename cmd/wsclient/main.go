// Command wsclient is a small debug client for the library: it dials a
// single WebSocket endpoint, prints every inbound message, and relays
// stdin lines as outbound text frames.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"

	"github.com/dsato80/Starscream/websocket"
)

func main() {
	cmd := &cli.Command{
		Name:   "wsclient",
		Usage:  "dial a WebSocket endpoint and exchange text frames from the terminal",
		Flags:  flags(),
		Action: run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "wsclient: %v\n", err)
		os.Exit(1)
	}
}

func flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "url",
			Usage:    "ws:// or wss:// endpoint to dial",
			Required: true,
		},
		&cli.StringFlag{
			Name:  "origin",
			Usage: "Origin header to send during the handshake",
		},
		&cli.BoolFlag{
			Name:  "insecure",
			Usage: "skip TLS certificate verification (wss:// only)",
		},
		&cli.BoolFlag{
			Name:  "pretty",
			Usage: "human-readable console logging instead of JSON",
		},
		&cli.DurationFlag{
			Name:  "close-grace",
			Usage: "how long to wait for the peer's close echo on exit",
			Value: time.Second,
		},
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	sessionID := shortuuid.New()
	logger := newLogger(cmd.Bool("pretty")).With().Str("session", sessionID).Logger()

	url := cmd.String("url")
	ws, err := websocket.New(url)
	if err != nil {
		return fmt.Errorf("new: %w", err)
	}
	if origin := cmd.String("origin"); origin != "" {
		ws.SetOrigin(origin)
	}
	if cmd.Bool("insecure") {
		ws.SetAllowSelfSigned(true)
	}

	connected := make(chan struct{})
	done := make(chan struct{})

	ws.OnConnect = func() {
		logger.Info().Stringer("url", ws.CurrentURL()).Msg("connected")
		close(connected)
	}
	ws.OnDisconnect = func(err error) {
		if err != nil {
			logger.Warn().Err(err).Msg("disconnected")
		} else {
			logger.Info().Msg("disconnected")
		}
		close(done)
	}
	ws.OnText = func(s string) {
		fmt.Printf("< %s\n", s)
	}
	ws.OnData = func(b []byte) {
		logger.Info().Int("bytes", len(b)).Msg("received binary message")
	}
	ws.OnPong = func(b []byte) {
		logger.Debug().Bytes("payload", b).Msg("pong")
	}

	logger.Info().Str("url", url).Msg("dialing")
	if err := ws.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	<-connected

	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			if err := ws.WriteText(scanner.Text()); err != nil {
				logger.Warn().Err(err).Msg("write failed")
				return
			}
		}
		_ = ws.Disconnect(cmd.Duration("close-grace"))
	}()

	<-done
	return nil
}

func newLogger(pretty bool) zerolog.Logger {
	if pretty {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}
