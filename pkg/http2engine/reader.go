package http2engine

import (
	"io"
	"sync/atomic"
	"time"

	"golang.org/x/net/http2"

	"github.com/nexthttp/nexthttp/pkg/errors"
)

// readLoop is the engine's single reader goroutine: every frame for every
// stream on this connection passes through here before being dispatched.
// No other goroutine ever calls c.codec.ReadFrame.
func (c *Connection) readLoop() {
	for {
		f, err := c.codec.ReadFrame()
		if err != nil {
			c.fail(err)
			return
		}
		if err := c.dispatch(f); err != nil {
			c.fail(err)
			return
		}
	}
}

func (c *Connection) fail(err error) {
	if err == io.EOF {
		err = errors.NewConnectionClosedError("", err)
	}
	c.readErr = err
	c.finishAll(err)
}

func (c *Connection) dispatch(f http2.Frame) error {
	switch frame := f.(type) {
	case *http2.HeadersFrame:
		return c.handleHeaders(frame)
	case *http2.ContinuationFrame:
		return c.handleContinuation(frame)
	case *http2.DataFrame:
		return c.handleData(frame)
	case *http2.SettingsFrame:
		return c.handleSettings(frame)
	case *http2.WindowUpdateFrame:
		return c.handleWindowUpdate(frame)
	case *http2.RSTStreamFrame:
		return c.handleRSTStream(frame)
	case *http2.GoAwayFrame:
		return c.handleGoAway(frame)
	case *http2.PingFrame:
		return c.handlePing(frame)
	case *http2.PushPromiseFrame:
		return c.handlePushPromise(frame)
	case *http2.PriorityFrame:
		return nil // priority signaling is accepted but not acted on
	default:
		return nil
	}
}

func (c *Connection) handleHeaders(f *http2.HeadersFrame) error {
	c.headerStreamID = f.StreamID
	c.headerBlock = append([]byte(nil), f.HeaderBlockFragment()...)
	c.headerEndStream = f.StreamEnded()

	s, ok := c.streams.get(f.StreamID)
	c.headerIsTrailer = ok && s != nil && s.hasHeaders()

	if f.HeadersEnded() {
		return c.finishHeaderBlock()
	}
	return nil
}

func (c *Connection) handleContinuation(f *http2.ContinuationFrame) error {
	c.headerBlock = append(c.headerBlock, f.HeaderBlockFragment()...)
	if f.HeadersEnded() {
		return c.finishHeaderBlock()
	}
	return nil
}

func (c *Connection) finishHeaderBlock() error {
	streamID := c.headerStreamID
	block := c.headerBlock
	isTrailer := c.headerIsTrailer
	endStream := c.headerEndStream
	c.headerBlock = nil

	decoded, err := c.hpack.Decode(block)
	if err != nil {
		return err
	}

	s, ok := c.streams.get(streamID)
	if !ok {
		return nil // stream already gone (e.g. locally reset); ignore
	}

	if isTrailer {
		s.deliverTrailers(decoded.Headers)
	} else {
		status := 0
		if v, ok := decoded.Pseudo[":status"]; ok {
			for _, c := range v {
				if c < '0' || c > '9' {
					status = 0
					break
				}
				status = status*10 + int(c-'0')
			}
		}
		s.deliverHeaders(&ResponseHeaders{Status: status, Headers: decoded.Headers})
	}

	if endStream {
		s.setState(StateHalfClosedRemote)
		s.finish(nil)
		c.streams.delete(streamID)
	}
	return nil
}

func (c *Connection) handleData(f *http2.DataFrame) error {
	payload := f.Data()

	s, ok := c.streams.get(f.StreamID)
	if ok {
		s.deliverData(append([]byte(nil), payload...))
	}

	connInc := c.connWindowIn.consume(int64(len(payload)))
	var streamInc int64
	if ok {
		streamInc = s.windowIn.consume(int64(len(payload)))
	}
	if connInc > 0 || streamInc > 0 {
		c.writeMu.Lock()
		if connInc > 0 {
			c.codec.WriteWindowUpdate(0, uint32(connInc))
		}
		if streamInc > 0 {
			c.codec.WriteWindowUpdate(f.StreamID, uint32(streamInc))
		}
		c.writeMu.Unlock()
	}

	if f.StreamEnded() && ok {
		s.setState(StateHalfClosedRemote)
		s.finish(nil)
		c.streams.delete(f.StreamID)
	}
	return nil
}

func (c *Connection) handleSettings(f *http2.SettingsFrame) error {
	if f.IsAck() {
		return nil
	}
	f.ForeachSetting(func(s http2.Setting) error {
		switch s.ID {
		case http2.SettingMaxConcurrentStreams:
			c.peerMaxConcurrent = s.Val
		case http2.SettingInitialWindowSize:
			c.peerInitialWindow = int64(s.Val)
		case http2.SettingHeaderTableSize:
			c.hpack.SetMaxDynamicTableSize(s.Val)
		case http2.SettingMaxFrameSize:
			c.peerMaxFrameSize = s.Val
		}
		return nil
	})
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.codec.WriteSettingsAck()
}

func (c *Connection) handleWindowUpdate(f *http2.WindowUpdateFrame) error {
	if f.StreamID == 0 {
		c.connWindowOut.add(int64(f.Increment))
		return nil
	}
	if s, ok := c.streams.get(f.StreamID); ok {
		s.peerWindow.add(int64(f.Increment))
	}
	return nil
}

func (c *Connection) handleRSTStream(f *http2.RSTStreamFrame) error {
	if s, ok := c.streams.get(f.StreamID); ok {
		s.markReset(uint32(f.ErrCode), true)
		s.finish(errors.NewStreamResetError(f.StreamID, uint32(f.ErrCode), false))
		c.streams.delete(f.StreamID)
	}
	return nil
}

// handleGoAway implements the client side of RFC 7540 §6.8: it sets
// no-new-exchanges (IsClosed/CanOpenStream start refusing new streams) and
// fails only the streams the peer is telling us it never processed — every
// stream at or below LastStreamID is left alone to run to completion. The
// reader loop keeps running; a GOAWAY is not itself a connection teardown.
func (c *Connection) handleGoAway(f *http2.GoAwayFrame) error {
	atomic.StoreUint32(&c.lastGoodStreamID, f.LastStreamID)
	c.goAwayCode = f.ErrCode
	atomic.StoreInt32(&c.closed, 1)
	c.finishStreamsAbove(f.LastStreamID)
	return nil
}

func (c *Connection) handlePing(f *http2.PingFrame) error {
	if f.IsAck() {
		var seq uint64
		for i := 0; i < 8; i++ {
			seq |= uint64(f.Data[i]) << (8 * i)
		}
		c.pingMu.Lock()
		if ch, ok := c.pendingPing[seq]; ok {
			delete(c.pendingPing, seq)
			close(ch)
		}
		c.lastPongAt = time.Now()
		c.pingMu.Unlock()
		return nil
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.codec.WritePing(true, f.Data)
}

// handlePushPromise implements the conservative accept-then-cancel policy
// (SPEC_FULL §9 Open Question 2): the engine never exposes a pushed-stream
// API to callers, so every promised stream is immediately reset.
func (c *Connection) handlePushPromise(f *http2.PushPromiseFrame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.codec.WriteRSTStream(f.PromiseID, http2.ErrCodeCancel)
}
