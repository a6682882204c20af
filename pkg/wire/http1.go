// Package wire implements the HTTP/1.1 and HTTP/2 wire codecs (distilled
// spec §4.1, C1): status-line/header parsing, chunked transfer framing, and
// the HPACK/frame layer HTTP/2 is built on.
package wire

import (
	"bufio"
	"io"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"

	"github.com/nexthttp/nexthttp/pkg/constants"
	"github.com/nexthttp/nexthttp/pkg/errors"
)

// StatusLine is a parsed HTTP/1.x response status line.
type StatusLine struct {
	Proto      string
	StatusCode int
	Reason     string
}

// ReadLine reads one CRLF- or LF-terminated line from r, stripping the
// terminator.
func ReadLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	if strings.HasSuffix(line, "\r\n") {
		return line[:len(line)-2], nil
	}
	return strings.TrimRight(line, "\n"), nil
}

// ReadStatusLine reads and parses "HTTP/1.1 200 OK".
func ReadStatusLine(r *bufio.Reader) (StatusLine, error) {
	line, err := ReadLine(r)
	if err != nil {
		return StatusLine{}, errors.NewProtocolError("reading status line", err)
	}
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 {
		return StatusLine{}, errors.NewProtocolError("invalid status line: "+line, nil)
	}
	code, err := strconv.Atoi(parts[1])
	if err != nil {
		return StatusLine{}, errors.NewProtocolError("invalid status code: "+parts[1], err)
	}
	reason := ""
	if len(parts) == 3 {
		reason = parts[2]
	}
	return StatusLine{Proto: parts[0], StatusCode: code, Reason: reason}, nil
}

// ReadHeaders reads a CRLF-terminated header block (terminated by a blank
// line) into an http.Header, enforcing limit total bytes (distilled spec's
// 256 KiB header-block cap). RFC 7230 §3.2.4 line-folding continuations are
// joined onto the previous field's last value.
func ReadHeaders(r *bufio.Reader, limit int) (http.Header, error) {
	if limit <= 0 {
		limit = constants.MaxHeaderBlockBytes
	}
	headers := make(http.Header)
	total := 0
	var lastKey string

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, errors.NewProtocolError("reading headers", err)
		}
		total += len(line)
		if total > limit {
			return nil, errors.NewProtocolError("header block exceeds maximum size", nil)
		}
		if line == "\r\n" || line == "\n" {
			break
		}

		trimmed := strings.TrimRight(line, "\r\n")
		if (strings.HasPrefix(trimmed, " ") || strings.HasPrefix(trimmed, "\t")) && lastKey != "" {
			vals := headers[lastKey]
			if n := len(vals); n > 0 {
				vals[n-1] = vals[n-1] + " " + strings.TrimSpace(trimmed)
			}
			continue
		}

		idx := strings.IndexByte(trimmed, ':')
		if idx < 0 {
			continue
		}
		key := textproto.CanonicalMIMEHeaderKey(strings.TrimSpace(trimmed[:idx]))
		value := strings.TrimSpace(trimmed[idx+1:])
		headers[key] = append(headers[key], value)
		lastKey = key
	}

	return headers, nil
}

// WriteRequestLine writes "METHOD path HTTP/1.1\r\n".
func WriteRequestLine(w io.Writer, method, path, proto string) error {
	_, err := io.WriteString(w, method+" "+path+" "+proto+"\r\n")
	return err
}

// WriteHeaders writes headers followed by the terminating blank line.
func WriteHeaders(w io.Writer, headers http.Header) error {
	for name, values := range headers {
		for _, v := range values {
			if _, err := io.WriteString(w, name+": "+v+"\r\n"); err != nil {
				return err
			}
		}
	}
	_, err := io.WriteString(w, "\r\n")
	return err
}

// BodyFraming describes how a message body's length is determined.
type BodyFraming int

const (
	// FramingNone means the message has no body (HEAD response, 1xx, 204, 304).
	FramingNone BodyFraming = iota
	// FramingChunked means Transfer-Encoding: chunked applies.
	FramingChunked
	// FramingFixedLength means a Content-Length applies.
	FramingFixedLength
	// FramingUntilClose means the body runs until the connection closes.
	FramingUntilClose
)

// DecideBodyFraming implements RFC 9110 §6.4.1/§8.6 body-framing precedence:
// Transfer-Encoding beats Content-Length, which beats close-delimiting.
// method is the request method that produced this response; statusCode is
// the response status.
func DecideBodyFraming(method string, statusCode int, headers http.Header) (BodyFraming, int64, error) {
	if method == "HEAD" || (statusCode >= 100 && statusCode < 200) || statusCode == 204 || statusCode == 304 {
		return FramingNone, 0, nil
	}

	if te := headers.Get("Transfer-Encoding"); strings.Contains(strings.ToLower(te), "chunked") {
		return FramingChunked, 0, nil
	}

	if cl := headers.Get("Content-Length"); cl != "" {
		length, err := strconv.ParseInt(strings.TrimSpace(cl), 10, 64)
		if err != nil || length < 0 {
			return 0, 0, errors.NewProtocolError("invalid Content-Length: "+cl, err)
		}
		return FramingFixedLength, length, nil
	}

	return FramingUntilClose, 0, nil
}

// ChunkedReader decodes an HTTP/1.1 chunked transfer-coded body (RFC 9112
// §7.1), including the trailer section.
type ChunkedReader struct {
	tp       *textproto.Reader
	br       *bufio.Reader
	remain   int64
	done     bool
	Trailer  http.Header
}

// NewChunkedReader wraps r to decode chunked framing.
func NewChunkedReader(r *bufio.Reader) *ChunkedReader {
	return &ChunkedReader{tp: textproto.NewReader(r), br: r, Trailer: make(http.Header)}
}

func (c *ChunkedReader) Read(p []byte) (int, error) {
	if c.done {
		return 0, io.EOF
	}
	if c.remain == 0 {
		if err := c.nextChunkHeader(); err != nil {
			return 0, err
		}
		if c.done {
			return 0, io.EOF
		}
	}

	n := len(p)
	if int64(n) > c.remain {
		n = int(c.remain)
	}
	read, err := c.br.Read(p[:n])
	c.remain -= int64(read)
	if err != nil {
		return read, errors.NewIOError("reading chunk body", err)
	}
	if c.remain == 0 {
		crlf := make([]byte, 2)
		if _, err := io.ReadFull(c.br, crlf); err != nil {
			return read, errors.NewIOError("reading chunk CRLF", err)
		}
	}
	return read, nil
}

func (c *ChunkedReader) nextChunkHeader() error {
	line, err := c.tp.ReadLine()
	if err != nil {
		return errors.NewProtocolError("reading chunk size", err)
	}
	if len(line) > constants.ChunkHeaderPadding {
		return errors.NewProtocolError("chunk header exceeds maximum size", nil)
	}
	sizeField := line
	if idx := strings.IndexByte(line, ';'); idx >= 0 {
		sizeField = line[:idx]
	}
	size, err := strconv.ParseInt(strings.TrimSpace(sizeField), 16, 64)
	if err != nil {
		return errors.NewProtocolError("invalid chunk size: "+line, err)
	}
	if size == 0 {
		return c.readTrailer()
	}
	c.remain = size
	return nil
}

func (c *ChunkedReader) readTrailer() error {
	for {
		line, err := c.tp.ReadLine()
		if err != nil {
			return errors.NewProtocolError("reading chunk trailer", err)
		}
		if line == "" {
			break
		}
		if idx := strings.IndexByte(line, ':'); idx >= 0 {
			key := textproto.CanonicalMIMEHeaderKey(strings.TrimSpace(line[:idx]))
			c.Trailer[key] = append(c.Trailer[key], strings.TrimSpace(line[idx+1:]))
		}
	}
	c.done = true
	return nil
}

// ChunkedWriter encodes an io.Writer's Write calls as HTTP/1.1 chunked
// transfer-coding.
type ChunkedWriter struct {
	w io.Writer
}

// NewChunkedWriter wraps w to emit chunked framing.
func NewChunkedWriter(w io.Writer) *ChunkedWriter {
	return &ChunkedWriter{w: w}
}

func (c *ChunkedWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if _, err := io.WriteString(c.w, strconv.FormatInt(int64(len(p)), 16)+"\r\n"); err != nil {
		return 0, err
	}
	n, err := c.w.Write(p)
	if err != nil {
		return n, err
	}
	if _, err := io.WriteString(c.w, "\r\n"); err != nil {
		return n, err
	}
	return n, nil
}

// Close writes the terminating zero-length chunk and empty trailer section.
func (c *ChunkedWriter) Close() error {
	_, err := io.WriteString(c.w, "0\r\n\r\n")
	return err
}

// UntilCloseReader reads a body that is delimited by connection close. It is
// a thin alias kept for call-site symmetry with the other framing readers.
type UntilCloseReader struct {
	io.Reader
}

// NewUntilCloseReader wraps r.
func NewUntilCloseReader(r io.Reader) *UntilCloseReader {
	return &UntilCloseReader{Reader: r}
}

// NewFixedLengthReader returns a reader limited to exactly n bytes, tolerant
// of a short final read (a server sending fewer bytes than it declared).
func NewFixedLengthReader(r io.Reader, n int64) io.Reader {
	return io.LimitReader(r, n)
}
