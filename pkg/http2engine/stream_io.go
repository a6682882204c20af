package http2engine

import (
	"context"
	"io"
	"net/http"

	"golang.org/x/net/http2"

	"github.com/nexthttp/nexthttp/pkg/errors"
)

// WaitHeaders blocks until the stream's response HEADERS are decoded, the
// stream is reset/fails, or ctx is done.
func (s *Stream) WaitHeaders(ctx context.Context) (*ResponseHeaders, error) {
	select {
	case h := <-s.respCh:
		return h, nil
	case err := <-s.errCh:
		return nil, err
	case <-s.doneCh:
		select {
		case err := <-s.errCh:
			return nil, err
		default:
			return nil, errors.NewConnectionClosedError(s.Authority, nil)
		}
	case <-ctx.Done():
		return nil, errors.NewCanceledError("wait_headers")
	}
}

// Body returns an io.ReadCloser over the stream's DATA payloads. Reads
// block until the next frame arrives, end-of-stream, or a terminal error.
func (s *Stream) Body() io.ReadCloser { return &streamBody{s: s} }

// Trailer returns the stream's trailing HEADERS, blocking until they
// arrive or the stream finishes without any (in which case it returns nil).
func (s *Stream) Trailer() http.Header {
	select {
	case h := <-s.trailerCh:
		return h
	case <-s.doneCh:
		select {
		case h := <-s.trailerCh:
			return h
		default:
			return nil
		}
	}
}

type streamBody struct {
	s   *Stream
	buf []byte
}

func (b *streamBody) Read(p []byte) (int, error) {
	for len(b.buf) == 0 {
		if chunk, ok := b.s.popData(); ok {
			b.buf = chunk
			continue
		}
		select {
		case <-b.s.bodySig:
			continue
		case err := <-b.s.errCh:
			return 0, err
		case <-b.s.doneCh:
			if chunk, ok := b.s.popData(); ok {
				b.buf = chunk
				continue
			}
			select {
			case err := <-b.s.errCh:
				return 0, err
			default:
				return 0, io.EOF
			}
		}
	}
	n := copy(p, b.buf)
	b.buf = b.buf[n:]
	return n, nil
}

func (b *streamBody) Close() error {
	return nil
}

// Cancel resets the stream locally with CANCEL, used when a caller abandons
// a request (context cancellation, interceptor short-circuit).
func (c *Connection) Cancel(s *Stream) error {
	s.markReset(0, false)
	s.finish(errors.NewCanceledError("stream_cancel"))
	c.streams.delete(s.ID)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.codec.WriteRSTStream(s.ID, http2.ErrCodeCancel)
}
