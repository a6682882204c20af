package wire

import (
	"io"

	"golang.org/x/net/http2"

	"github.com/nexthttp/nexthttp/pkg/errors"
)

// FrameCodec wraps golang.org/x/net/http2.Framer to read and write the
// complete RFC 7540 frame set the engine needs (HEADERS, DATA, SETTINGS,
// WINDOW_UPDATE, RST_STREAM, GOAWAY, PING, PRIORITY, PUSH_PROMISE,
// CONTINUATION). CONTINUATION frames are returned to the caller as
// read; the Framer does not merge them into the preceding HEADERS.
type FrameCodec struct {
	framer *http2.Framer
}

// NewFrameCodec builds a FrameCodec over rw. ReadMetaHeaders is left nil,
// so the Framer does not reassemble HEADERS+CONTINUATION sequences; the
// caller decodes header blocks itself.
func NewFrameCodec(rw io.ReadWriter, maxReadFrameSize uint32) *FrameCodec {
	f := http2.NewFramer(rw, rw)
	f.ReadMetaHeaders = nil // the engine decodes header blocks itself via HeaderCodec
	if maxReadFrameSize > 0 {
		f.SetMaxReadFrameSize(maxReadFrameSize)
	}
	f.AllowIllegalReads = true
	return &FrameCodec{framer: f}
}

// ReadFrame reads the next raw frame off the wire.
func (c *FrameCodec) ReadFrame() (http2.Frame, error) {
	f, err := c.framer.ReadFrame()
	if err != nil {
		return nil, errors.NewProtocolError("reading HTTP/2 frame", err)
	}
	return f, nil
}

// WriteSettings writes a SETTINGS frame.
func (c *FrameCodec) WriteSettings(settings ...http2.Setting) error {
	return wrapWriteErr("SETTINGS", c.framer.WriteSettings(settings...))
}

// WriteSettingsAck writes a SETTINGS frame with the ACK flag.
func (c *FrameCodec) WriteSettingsAck() error {
	return wrapWriteErr("SETTINGS ack", c.framer.WriteSettingsAck())
}

// WriteHeaders writes one HEADERS frame carrying p.BlockFragment as given;
// the Framer does not split a block larger than the peer's max frame size
// into CONTINUATION frames.
func (c *FrameCodec) WriteHeaders(p http2.HeadersFrameParam) error {
	return wrapWriteErr("HEADERS", c.framer.WriteHeaders(p))
}

// WriteData writes a DATA frame.
func (c *FrameCodec) WriteData(streamID uint32, endStream bool, data []byte) error {
	return wrapWriteErr("DATA", c.framer.WriteData(streamID, endStream, data))
}

// WriteWindowUpdate writes a WINDOW_UPDATE frame.
func (c *FrameCodec) WriteWindowUpdate(streamID uint32, increment uint32) error {
	return wrapWriteErr("WINDOW_UPDATE", c.framer.WriteWindowUpdate(streamID, increment))
}

// WriteRSTStream writes an RST_STREAM frame.
func (c *FrameCodec) WriteRSTStream(streamID uint32, code http2.ErrCode) error {
	return wrapWriteErr("RST_STREAM", c.framer.WriteRSTStream(streamID, code))
}

// WriteGoAway writes a GOAWAY frame.
func (c *FrameCodec) WriteGoAway(lastStreamID uint32, code http2.ErrCode, debugData []byte) error {
	return wrapWriteErr("GOAWAY", c.framer.WriteGoAway(lastStreamID, code, debugData))
}

// WritePing writes a PING frame.
func (c *FrameCodec) WritePing(ack bool, data [8]byte) error {
	return wrapWriteErr("PING", c.framer.WritePing(ack, data))
}

// WritePriority writes a PRIORITY frame.
func (c *FrameCodec) WritePriority(streamID uint32, p http2.PriorityParam) error {
	return wrapWriteErr("PRIORITY", c.framer.WritePriority(streamID, p))
}

func wrapWriteErr(frameType string, err error) error {
	if err == nil {
		return nil
	}
	return errors.NewIOError("writing "+frameType+" frame", err)
}

// ClientPreface is the HTTP/2 connection preface a client must send before
// its first frame (RFC 7540 §3.5), used for both ALPN-negotiated and
// prior-knowledge cleartext connections.
const ClientPreface = http2.ClientPreface

// WritePreface writes the client connection preface to w.
func WritePreface(w io.Writer) error {
	_, err := io.WriteString(w, ClientPreface)
	return err
}
