package websocket

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

type recordedMessage struct {
	mt      MessageType
	payload []byte
}

type recordedClose struct {
	code   CloseCode
	reason string
}

type testSink struct {
	messages []recordedMessage
	pings    [][]byte
	pongs    [][]byte
	closes   []recordedClose
	errs     []error
}

func (s *testSink) onMessage(mt MessageType, payload []byte) {
	s.messages = append(s.messages, recordedMessage{mt, append([]byte(nil), payload...)})
}
func (s *testSink) onPing(payload []byte) { s.pings = append(s.pings, append([]byte(nil), payload...)) }
func (s *testSink) onPong(payload []byte) { s.pongs = append(s.pongs, append([]byte(nil), payload...)) }
func (s *testSink) onClose(code CloseCode, reason string) {
	s.closes = append(s.closes, recordedClose{code, reason})
}
func (s *testSink) onProtocolError(err error) { s.errs = append(s.errs, err) }

func TestDecodeSingleTextFrame(t *testing.T) {
	d := &decoder{}
	sink := &testSink{}

	data := []byte{0x81, 0x05, 0x48, 0x65, 0x6C, 0x6C, 0x6F} // "Hello"
	if err := d.feed(data, sink); err != nil {
		t.Fatalf("feed: %v", err)
	}
	if len(sink.messages) != 1 {
		t.Fatalf("got %d messages, want 1", len(sink.messages))
	}
	if sink.messages[0].mt != TextMessage || string(sink.messages[0].payload) != "Hello" {
		t.Errorf("got %+v", sink.messages[0])
	}
}

func TestDecodeFragmentedTextFrame(t *testing.T) {
	d := &decoder{}
	sink := &testSink{}

	first := []byte{0x01, 0x03, 0x48, 0x65, 0x6C}  // "Hel", FIN=0, TEXT
	second := []byte{0x80, 0x02, 0x6C, 0x6F}        // "lo", FIN=1, CONTINUATION

	if err := d.feed(first, sink); err != nil {
		t.Fatalf("feed first: %v", err)
	}
	if len(sink.messages) != 0 {
		t.Fatalf("message dispatched before final fragment arrived")
	}

	if err := d.feed(second, sink); err != nil {
		t.Fatalf("feed second: %v", err)
	}
	if len(sink.messages) != 1 || string(sink.messages[0].payload) != "Hello" {
		t.Fatalf("got %+v", sink.messages)
	}
}

func TestDecodeSplitHeaderAcrossFeeds(t *testing.T) {
	d := &decoder{}
	sink := &testSink{}

	full := []byte{0x81, 0x05, 0x48, 0x65, 0x6C, 0x6C, 0x6F}
	for i := range full {
		if err := d.feed(full[i:i+1], sink); err != nil {
			t.Fatalf("feed byte %d: %v", i, err)
		}
	}
	if len(sink.messages) != 1 || string(sink.messages[0].payload) != "Hello" {
		t.Fatalf("byte-at-a-time feed produced %+v", sink.messages)
	}
}

func TestDecodePingDuringFragmentedMessage(t *testing.T) {
	d := &decoder{}
	sink := &testSink{}

	first := []byte{0x01, 0x03, 0x48, 0x65, 0x6C} // "Hel", FIN=0
	ping := []byte{0x89, 0x00}                     // empty ping, FIN=1
	last := []byte{0x80, 0x02, 0x6C, 0x6F}          // "lo", FIN=1, CONTINUATION

	for _, chunk := range [][]byte{first, ping, last} {
		if err := d.feed(chunk, sink); err != nil {
			t.Fatalf("feed: %v", err)
		}
	}

	if len(sink.pings) != 1 {
		t.Fatalf("got %d pings, want 1", len(sink.pings))
	}
	if len(sink.messages) != 1 || string(sink.messages[0].payload) != "Hello" {
		t.Fatalf("reassembly broken by interleaved ping: %+v", sink.messages)
	}
}

func TestDecodeCloseFrame(t *testing.T) {
	d := &decoder{}
	sink := &testSink{}

	data := []byte{0x88, 0x02, 0x03, 0xE8} // code 1000
	if err := d.feed(data, sink); err != nil {
		t.Fatalf("feed: %v", err)
	}
	if len(sink.closes) != 1 || sink.closes[0].code != CloseNormalClosure {
		t.Fatalf("got %+v", sink.closes)
	}
}

func TestDecodeCloseFrameEmptyBody(t *testing.T) {
	d := &decoder{}
	sink := &testSink{}

	if err := d.feed([]byte{0x88, 0x00}, sink); err != nil {
		t.Fatalf("feed: %v", err)
	}
	if len(sink.closes) != 1 || sink.closes[0].code != CloseNoStatusReceived {
		t.Fatalf("got %+v", sink.closes)
	}
}

func TestDecodeInvalidUTF8(t *testing.T) {
	d := &decoder{}
	sink := &testSink{}

	data := []byte{0x81, 0x02, 0xC3, 0x28} // invalid 2-byte UTF-8 sequence
	err := d.feed(data, sink)
	if !errors.Is(err, ErrInvalidUTF8) {
		t.Fatalf("feed error = %v, want ErrInvalidUTF8", err)
	}
	if len(sink.errs) != 1 {
		t.Fatalf("onProtocolError called %d times, want 1", len(sink.errs))
	}
}

func TestDecodeOversizedLengthMSBSet(t *testing.T) {
	d := &decoder{}
	sink := &testSink{}

	// Binary frame, FIN=1, 64-bit length with the reserved high bit set.
	data := []byte{0x82, 0x7F, 0x80, 0, 0, 0, 0, 0, 0, 0}
	err := d.feed(data, sink)
	if !errors.Is(err, ErrProtocolError) {
		t.Fatalf("feed error = %v, want ErrProtocolError", err)
	}
}

func TestDecodeFrameTooLarge(t *testing.T) {
	d := &decoder{}
	sink := &testSink{}

	huge := uint64(maxFramePayload) + 1
	ext := make([]byte, 8)
	putUint64(ext, huge)
	data := append([]byte{0x82, 0x7F}, ext...)

	err := d.feed(data, sink)
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("feed error = %v, want ErrFrameTooLarge", err)
	}
}

func TestDecodeRejectsMaskedServerFrame(t *testing.T) {
	d := &decoder{}
	sink := &testSink{}

	// A server frame (MASK bit set) must never be accepted by a client.
	data := []byte{0x81, 0x85, 0, 0, 0, 0, 'H', 'e', 'l', 'l', 'o'}
	err := d.feed(data, sink)
	if !errors.Is(err, ErrMaskUnexpected) {
		t.Fatalf("feed error = %v, want ErrMaskUnexpected", err)
	}
}

func TestDecodeUnexpectedContinuation(t *testing.T) {
	d := &decoder{}
	sink := &testSink{}

	data := []byte{0x80, 0x02, 'h', 'i'} // CONTINUATION with no prior frame
	err := d.feed(data, sink)
	if !errors.Is(err, ErrUnexpectedContinuation) {
		t.Fatalf("feed error = %v, want ErrUnexpectedContinuation", err)
	}
}

func TestDecodeRejectsReservedBitsOnControlFrame(t *testing.T) {
	d := &decoder{}
	sink := &testSink{}

	data := []byte{0xC9, 0x00} // PING opcode with RSV1 set
	err := d.feed(data, sink)
	if !errors.Is(err, ErrReservedBits) {
		t.Fatalf("feed error = %v, want ErrReservedBits", err)
	}
}

func TestEncodeFrameIsAlwaysMasked(t *testing.T) {
	payload := []byte("hello")
	wire, err := encodeFrame(opcodeText, payload)
	if err != nil {
		t.Fatalf("encodeFrame: %v", err)
	}

	hdr, n, err := parseHeader(wire)
	if err != nil || n == 0 {
		t.Fatalf("parseHeader: n=%d err=%v", n, err)
	}
	if !hdr.masked {
		t.Fatal("outbound frame was not masked")
	}
	if hdr.opcode != opcodeText || !hdr.fin {
		t.Fatalf("unexpected header %+v", hdr)
	}

	got := append([]byte(nil), wire[n:n+int(hdr.payloadLen)]...)
	applyMask(got, hdr.mask)
	if string(got) != "hello" {
		t.Fatalf("round-tripped payload = %q", got)
	}
}

func TestEncodeFrameUsesDistinctMasks(t *testing.T) {
	a, err := encodeFrame(opcodeBinary, []byte("same payload"))
	if err != nil {
		t.Fatal(err)
	}
	b, err := encodeFrame(opcodeBinary, []byte("same payload"))
	if err != nil {
		t.Fatal(err)
	}
	if string(a) == string(b) {
		t.Fatal("two encodeFrame calls with identical payload produced identical wire bytes (mask not randomized)")
	}
}

func TestEncodeFrameRejectsOversizedControlPayload(t *testing.T) {
	payload := make([]byte, maxControlPayload+1)
	if _, err := encodeFrame(opcodePing, payload); !errors.Is(err, ErrControlTooLarge) {
		t.Fatalf("err = %v, want ErrControlTooLarge", err)
	}
}

func TestDecodeMultipleMessagesInOneFeed(t *testing.T) {
	d := &decoder{}
	sink := &testSink{}

	data := append(
		append([]byte{0x81, 0x02, 'h', 'i'}, 0x81, 0x02, 'y', 'o'), // "hi", "yo"
		0x82, 0x01, 0x2A, // binary [0x2A]
	)

	if err := d.feed(data, sink); err != nil {
		t.Fatalf("feed: %v", err)
	}

	want := []recordedMessage{
		{TextMessage, []byte("hi")},
		{TextMessage, []byte("yo")},
		{BinaryMessage, []byte{0x2A}},
	}
	if diff := cmp.Diff(want, sink.messages, cmpopts.EquateEmpty(), cmp.AllowUnexported(recordedMessage{})); diff != "" {
		t.Fatalf("messages mismatch (-want +got):\n%s", diff)
	}
}

func TestEncodeFrameLengthEncoding(t *testing.T) {
	sizes := []int{0, 125, 126, 65535, 65536}
	for _, size := range sizes {
		payload := make([]byte, size)
		wire, err := encodeFrame(opcodeBinary, payload)
		if err != nil {
			t.Fatalf("size %d: %v", size, err)
		}
		hdr, n, err := parseHeader(wire)
		if err != nil || n == 0 {
			t.Fatalf("size %d: parseHeader n=%d err=%v", size, n, err)
		}
		if hdr.payloadLen != uint64(size) {
			t.Errorf("size %d: parsed payloadLen = %d", size, hdr.payloadLen)
		}
	}
}
