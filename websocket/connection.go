package websocket

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/lithammer/shortuuid/v4"
	"github.com/rs/zerolog"
)

// connState is the connection's position in the lifecycle described in
// SPEC_FULL.md §3: Created -> Connecting -> Open -> Closing -> Closed.
// A connection never leaves Closed once it arrives there.
type connState int32

const (
	stateCreated connState = iota
	stateConnecting
	stateOpen
	stateClosing
	stateClosed
)

// readChunkSize is how much the reader goroutine asks the transport for
// per Read call; it has no relation to frame or message boundaries.
const readChunkSize = 4096

// handshakeTimeout bounds how long Connect waits for the server to finish
// sending its opening handshake response after the TCP/TLS dial succeeds.
const handshakeTimeout = 10 * time.Second

// writeQueueDepth bounds how many encoded frames may be buffered ahead of
// the single write-pump goroutine before Write* calls block.
const writeQueueDepth = 256

// WebSocket is a client-side RFC 6455 WebSocket endpoint. A zero-value
// WebSocket is not usable; construct one with New.
type WebSocket struct {
	url       *url.URL
	protocols []string

	header          http.Header
	origin          string
	executor        Executor
	voipEnabled     bool
	allowSelfSigned bool
	trustValidator  TrustValidator
	cipherSuites    []uint16

	connID string
	logger zerolog.Logger

	mu    sync.Mutex
	state connState
	conn  duplexConn

	subprotocol string

	dec decoder

	// writeCh feeds the single write-pump goroutine (writeLoop), which is
	// the only goroutine allowed to call conn.Write so concurrent frames
	// never interleave on the wire. writeMu/writeClosed guard against
	// sending on writeCh after it has been closed during teardown.
	writeCh       chan []byte
	writeMu       sync.Mutex
	writeClosed   bool
	writeLoopDone chan struct{}

	done     chan struct{}
	teardown sync.Once

	// OnConnect fires once the opening handshake completes successfully.
	OnConnect func()
	// OnDisconnect fires exactly once per connection that reached Open,
	// whether it closed cleanly, was closed locally, or failed afterwards.
	// err is nil for a clean, locally-initiated close. A Connect that fails
	// (dial, handshake or timeout) returns its error and does not fire
	// OnDisconnect.
	OnDisconnect func(err error)
	// OnText fires for each reassembled text message.
	OnText func(string)
	// OnData fires for each reassembled binary message.
	OnData func([]byte)
	// OnPong fires for each received Pong frame (solicited or not).
	OnPong func([]byte)
}

// duplexConn is the minimal transport surface the connection needs; it is
// satisfied by net.Conn and exists so tests can substitute an in-memory
// pipe without touching real sockets.
type duplexConn interface {
	Read(b []byte) (int, error)
	Write(b []byte) (int, error)
	Close() error
}

// New constructs a WebSocket client for rawURL, which must have scheme
// ws, wss, http, or https. protocols, if given, is offered via
// Sec-WebSocket-Protocol. The connection does nothing until Connect is
// called; all SetXxx configuration methods must be called before then.
func New(rawURL string, protocols ...string) (*WebSocket, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("websocket: parse url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return nil, ErrInvalidScheme
	}

	ws := &WebSocket{
		url:           u,
		protocols:     protocols,
		header:        make(http.Header),
		connID:        shortuuid.New(),
		logger:        zerolog.Nop(),
		state:         stateCreated,
		done:          make(chan struct{}),
		writeCh:       make(chan []byte, writeQueueDepth),
		writeLoopDone: make(chan struct{}),
	}
	ws.logger = newLogger(ws.logger, ws.connID)
	return ws, nil
}

func (ws *WebSocket) getState() connState {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.state
}

func (ws *WebSocket) setState(s connState) {
	ws.mu.Lock()
	ws.state = s
	ws.mu.Unlock()
}

// IsConnected reports whether the connection is in the Open state.
func (ws *WebSocket) IsConnected() bool {
	return ws.getState() == stateOpen
}

// CurrentURL returns the URL the connection was constructed with.
func (ws *WebSocket) CurrentURL() *url.URL {
	return ws.url
}

// Pre-Connect configuration. Each setter is a no-op once Connect has been
// called, matching the teacher's convention of configuration methods that
// silently do nothing against a live connection rather than panicking.

func (ws *WebSocket) SetExecutor(e Executor) {
	if ws.getState() != stateCreated || e == nil {
		return
	}
	ws.apply(withExecutor(e))
}

// SetLogger replaces the connection's zerolog.Logger, which defaults to
// zerolog.Nop() (no output) until a real logger is injected here.
func (ws *WebSocket) SetLogger(logger zerolog.Logger) {
	if ws.getState() != stateCreated {
		return
	}
	ws.apply(withLogger(logger))
}

func (ws *WebSocket) SetHeader(h http.Header) {
	if ws.getState() != stateCreated {
		return
	}
	ws.apply(withHeader(h))
}

func (ws *WebSocket) SetOrigin(origin string) {
	if ws.getState() != stateCreated {
		return
	}
	ws.apply(withOrigin(origin))
}

// EnableVoIP marks the socket as carrying latency-sensitive traffic. It
// does not change wire behavior; it is surfaced so callers on platforms
// with VoIP-aware network scheduling have a place to opt in, mirroring
// the flag the reference implementation exposes for the same reason.
func (ws *WebSocket) EnableVoIP(enabled bool) {
	if ws.getState() != stateCreated {
		return
	}
	ws.apply(withVoIP(enabled))
}

func (ws *WebSocket) SetAllowSelfSigned(allow bool) {
	if ws.getState() != stateCreated {
		return
	}
	ws.apply(withAllowSelfSigned(allow))
}

func (ws *WebSocket) SetTrustValidator(fn TrustValidator) {
	if ws.getState() != stateCreated {
		return
	}
	ws.apply(withTrustValidator(fn))
}

func (ws *WebSocket) SetCipherSuites(suites []uint16) {
	if ws.getState() != stateCreated {
		return
	}
	ws.apply(withCipherSuites(suites))
}

// Connect performs the TCP/TLS dial and the RFC 6455 opening handshake,
// blocking until the connection is Open or the handshake fails. On
// success it starts the reader and writer goroutines and schedules
// OnConnect.
func (ws *WebSocket) Connect() error {
	ws.mu.Lock()
	if ws.state != stateCreated {
		ws.mu.Unlock()
		return fmt.Errorf("websocket: Connect called in state %v", ws.state)
	}
	ws.state = stateConnecting
	ws.mu.Unlock()

	if ws.executor == nil {
		ws.executor = newSerialExecutor()
	}

	conn, err := dial(ws.url, ws.allowSelfSigned, ws.trustValidator, ws.cipherSuites)
	if err != nil {
		ws.setState(stateClosed)
		return err
	}

	reqBytes, key, err := buildRequest(ws.url, ws.protocols, ws.header, ws.origin)
	if err != nil {
		_ = conn.Close()
		ws.setState(stateClosed)
		return err
	}

	if _, err := conn.Write(reqBytes); err != nil {
		_ = conn.Close()
		ws.setState(stateClosed)
		return fmt.Errorf("websocket: write handshake request: %w", err)
	}

	if err := conn.SetReadDeadline(time.Now().Add(handshakeTimeout)); err != nil {
		_ = conn.Close()
		ws.setState(stateClosed)
		return fmt.Errorf("websocket: set handshake deadline: %w", err)
	}

	scanner := newHandshakeScanner(key)
	buf := make([]byte, readChunkSize)
	var result handshakeResult
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			res, ok, scanErr := scanner.scan(buf[:n])
			if scanErr != nil {
				_ = conn.Close()
				ws.setState(stateClosed)
				return scanErr
			}
			if ok {
				result = res
				break
			}
		}
		if err != nil {
			_ = conn.Close()
			ws.setState(stateClosed)
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return &HandshakeError{Err: ErrHandshakeTimeout}
			}
			return &HandshakeError{Err: fmt.Errorf("reading handshake response: %w", err)}
		}
	}

	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		_ = conn.Close()
		ws.setState(stateClosed)
		return fmt.Errorf("websocket: clear handshake deadline: %w", err)
	}

	ws.mu.Lock()
	ws.conn = conn
	ws.subprotocol = result.subprotocol
	ws.state = stateOpen
	ws.mu.Unlock()

	ws.logger.Info().Str("url", ws.url.String()).Msg("websocket connected")

	go ws.writeLoop()
	go ws.readLoop(result.trailing)

	ws.executor.Schedule(func() {
		if ws.OnConnect != nil {
			ws.OnConnect()
		}
	})

	return nil
}

func (ws *WebSocket) readLoop(trailing []byte) {
	if len(trailing) > 0 {
		if err := ws.dec.feed(trailing, ws); err != nil {
			ws.closeWithProtocolError(err)
			return
		}
	}

	buf := make([]byte, readChunkSize)
	for {
		n, err := ws.conn.Read(buf)
		if n > 0 {
			if ferr := ws.dec.feed(buf[:n], ws); ferr != nil {
				ws.closeWithProtocolError(ferr)
				return
			}
		}
		if err != nil {
			ws.finish(err)
			return
		}
		if ws.getState() == stateClosed {
			return
		}
	}
}

// writeLoop is the only goroutine that ever calls conn.Write, so frames
// from different callers never interleave on the wire. It ranges over
// writeCh rather than selecting against done, so a frame enqueued right
// before teardown (the close-frame echo in onClose/closeWithProtocolError)
// is still drained and written, not dropped by a shutdown race.
func (ws *WebSocket) writeLoop() {
	defer close(ws.writeLoopDone)
	for b := range ws.writeCh {
		if _, err := ws.conn.Write(b); err != nil {
			ws.finishFromWriteLoop(fmt.Errorf("websocket: write: %w", err))
			return
		}
	}
}

// enqueueFrame encodes a single frame and hands it to the write pump.
// writeMu makes the send and the writeClosed check atomic with
// closeWriteQueue, so teardown can never close writeCh while a send to it
// is in flight.
func (ws *WebSocket) enqueueFrame(opcode byte, payload []byte) error {
	b, err := encodeFrame(opcode, payload)
	if err != nil {
		return err
	}
	ws.writeMu.Lock()
	defer ws.writeMu.Unlock()
	if ws.writeClosed {
		return fmt.Errorf("%w: %v", ErrClosed, ErrWriteQueueClosed)
	}
	ws.writeCh <- b
	return nil
}

// closeWriteQueue stops further enqueueFrame calls from succeeding and
// closes writeCh so writeLoop's range drains whatever is already queued,
// then exits. Safe to call more than once.
func (ws *WebSocket) closeWriteQueue() {
	ws.writeMu.Lock()
	defer ws.writeMu.Unlock()
	if ws.writeClosed {
		return
	}
	ws.writeClosed = true
	close(ws.writeCh)
}

// WriteText sends s as a single Text frame.
func (ws *WebSocket) WriteText(s string) error {
	if !ws.IsConnected() {
		return ErrNotConnected
	}
	if !utf8.ValidString(s) {
		return ErrInvalidUTF8
	}
	return ws.enqueueFrame(opcodeText, []byte(s))
}

// WriteBinary sends b as a single Binary frame.
func (ws *WebSocket) WriteBinary(b []byte) error {
	if !ws.IsConnected() {
		return ErrNotConnected
	}
	return ws.enqueueFrame(opcodeBinary, b)
}

// WritePing sends a Ping control frame carrying b (at most 125 bytes).
func (ws *WebSocket) WritePing(b []byte) error {
	if !ws.IsConnected() {
		return ErrNotConnected
	}
	if len(b) > maxControlPayload {
		return ErrControlTooLarge
	}
	return ws.enqueueFrame(opcodePing, b)
}

// Disconnect closes the connection. timeout < 0 forces an immediate
// transport close without sending a Close frame (for the caller that
// already knows the peer is gone). timeout == 0 sends a Close frame but
// does not wait for the peer's echo before returning. timeout > 0 sends a
// Close frame and forces the transport closed after timeout elapses if
// the peer never echoes it.
func (ws *WebSocket) Disconnect(timeout time.Duration) error {
	ws.mu.Lock()
	if ws.state != stateOpen {
		ws.mu.Unlock()
		return ErrNotConnected
	}
	ws.state = stateClosing
	ws.mu.Unlock()

	if timeout < 0 {
		ws.finish(nil)
		return nil
	}

	_ = ws.enqueueFrame(opcodeClose, encodeClosePayload(CloseNormalClosure, ""))

	if timeout > 0 {
		time.AfterFunc(timeout, func() { ws.finish(nil) })
	}
	return nil
}

func encodeClosePayload(code CloseCode, reason string) []byte {
	payload := make([]byte, 2+len(reason))
	putUint16(payload[:2], uint16(code))
	copy(payload[2:], reason)
	return payload
}

// closeWithProtocolError echoes a Close frame carrying the appropriate
// status code for err before tearing the connection down.
func (ws *WebSocket) closeWithProtocolError(err error) {
	code := CloseProtocolError
	if err == ErrInvalidUTF8 { //nolint:errorlint // sentinel comparison; err always one of our own sentinels here
		code = CloseInvalidFramePayloadData
	}
	_ = ws.enqueueFrame(opcodeClose, encodeClosePayload(code, ""))
	ws.finish(err)
}

// finish tears the connection down exactly once, regardless of which of
// the several paths (read error, protocol error, local Disconnect, close
// handshake completion) triggered it, and schedules OnDisconnect. It
// waits for the write pump to drain (so a close-frame echo queued right
// before teardown is actually sent) before closing the transport.
func (ws *WebSocket) finish(err error) {
	ws.teardown.Do(func() { ws.doFinish(err, false) })
}

// finishFromWriteLoop is finish's entry point when the write pump itself
// hit the fatal error: it must skip waiting on writeLoopDone, since it IS
// the write pump and waiting on itself would deadlock.
func (ws *WebSocket) finishFromWriteLoop(err error) {
	ws.teardown.Do(func() { ws.doFinish(err, true) })
}

func (ws *WebSocket) doFinish(err error, fromWriteLoop bool) {
	ws.setState(stateClosed)
	ws.closeWriteQueue()
	if !fromWriteLoop {
		<-ws.writeLoopDone
	}
	close(ws.done)
	if ws.conn != nil {
		_ = ws.conn.Close()
	}
	if se, ok := ws.executor.(*serialExecutor); ok {
		defer se.stop()
	}

	ws.logger.Info().Err(err).Msg("websocket disconnected")

	ws.executor.Schedule(func() {
		if ws.OnDisconnect != nil {
			ws.OnDisconnect(err)
		}
	})
}

// frameSink implementation, invoked from the reader goroutine.

func (ws *WebSocket) onMessage(mt MessageType, payload []byte) {
	switch mt {
	case TextMessage:
		text := string(payload)
		ws.executor.Schedule(func() {
			if ws.OnText != nil {
				ws.OnText(text)
			}
		})
	case BinaryMessage:
		ws.executor.Schedule(func() {
			if ws.OnData != nil {
				ws.OnData(payload)
			}
		})
	}
}

func (ws *WebSocket) onPing(payload []byte) {
	_ = ws.enqueueFrame(opcodePong, payload)
}

func (ws *WebSocket) onPong(payload []byte) {
	ws.executor.Schedule(func() {
		if ws.OnPong != nil {
			ws.OnPong(payload)
		}
	})
}

func (ws *WebSocket) onClose(code CloseCode, reason string) {
	if ws.getState() == stateClosing {
		// We initiated Disconnect and the peer just echoed our Close
		// frame: this is a clean, locally-initiated close, not an error.
		ws.finish(nil)
		return
	}
	// Peer-initiated close: echo it back before tearing down. A close that
	// carried no status code is echoed with an empty body, since
	// CloseNoStatusReceived must not appear on the wire.
	echo := encodeClosePayload(code, "")
	if code == CloseNoStatusReceived {
		echo = nil
	}
	_ = ws.enqueueFrame(opcodeClose, echo)
	ws.finish(&CloseError{Code: code, Reason: reason})
}

func (ws *WebSocket) onProtocolError(err error) {
	ws.closeWithProtocolError(err)
}
