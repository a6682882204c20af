package wire

import (
	"bytes"
	"net/http"
	"strings"

	"golang.org/x/net/http2/hpack"

	"github.com/nexthttp/nexthttp/pkg/errors"
)

// HeaderCodec encodes/decodes HTTP/2 HEADERS blocks (RFC 7541 HPACK),
// adapted from the teacher's HTTP/1-to-HTTP/2 Converter into a standalone
// http.Header <-> header-block transform.
type HeaderCodec struct {
	encBuf  bytes.Buffer
	encoder *hpack.Encoder
	decoder *hpack.Decoder
}

// NewHeaderCodec creates a HeaderCodec with a 4096-byte dynamic table, the
// HTTP/2 default (RFC 7541 §4.2).
func NewHeaderCodec() *HeaderCodec {
	c := &HeaderCodec{}
	c.encoder = hpack.NewEncoder(&c.encBuf)
	c.encoder.SetMaxDynamicTableSize(4096)
	c.decoder = hpack.NewDecoder(4096, nil)
	return c
}

// SetMaxDynamicTableSize applies a peer SETTINGS_HEADER_TABLE_SIZE update to
// the encoder side (our outbound table).
func (c *HeaderCodec) SetMaxDynamicTableSize(size uint32) {
	c.encoder.SetMaxDynamicTableSize(size)
}

// RequestPseudoHeaders is the ordered set of HTTP/2 request pseudo-headers
// (RFC 7540 §8.1.2.3): method, scheme, authority, path, in that order.
type RequestPseudoHeaders struct {
	Method    string
	Scheme    string
	Authority string
	Path      string
}

// EncodeRequest produces an HPACK-encoded header block for an HTTP/2
// request: pseudo-headers first, then regular headers lowercased with
// connection-specific headers stripped (RFC 7540 §8.1.2.2).
func (c *HeaderCodec) EncodeRequest(pseudo RequestPseudoHeaders, headers http.Header) ([]byte, error) {
	c.encBuf.Reset()

	fields := []hpack.HeaderField{
		{Name: ":method", Value: pseudo.Method},
		{Name: ":scheme", Value: pseudo.Scheme},
		{Name: ":authority", Value: pseudo.Authority},
		{Name: ":path", Value: pseudo.Path},
	}
	fields = append(fields, c.regularFields(headers)...)

	for _, f := range fields {
		if err := c.encoder.WriteField(f); err != nil {
			return nil, errors.NewProtocolError("encoding HPACK field "+f.Name, err)
		}
	}
	out := make([]byte, c.encBuf.Len())
	copy(out, c.encBuf.Bytes())
	return out, nil
}

// EncodeResponse produces an HPACK-encoded header block for an HTTP/2
// response: :status first, then regular headers.
func (c *HeaderCodec) EncodeResponse(status string, headers http.Header) ([]byte, error) {
	c.encBuf.Reset()

	fields := []hpack.HeaderField{{Name: ":status", Value: status}}
	fields = append(fields, c.regularFields(headers)...)

	for _, f := range fields {
		if err := c.encoder.WriteField(f); err != nil {
			return nil, errors.NewProtocolError("encoding HPACK field "+f.Name, err)
		}
	}
	out := make([]byte, c.encBuf.Len())
	copy(out, c.encBuf.Bytes())
	return out, nil
}

func (c *HeaderCodec) regularFields(headers http.Header) []hpack.HeaderField {
	var fields []hpack.HeaderField
	for name, values := range headers {
		lower := strings.ToLower(name)
		if isConnectionSpecificHeader(lower) || strings.HasPrefix(lower, ":") || lower == "host" {
			continue
		}
		for _, v := range values {
			fields = append(fields, hpack.HeaderField{Name: lower, Value: v})
		}
	}
	return fields
}

// DecodedHeaders is a parsed HEADERS block: pseudo-header fields kept
// separate from regular header fields, mirroring how the engine must read
// :status/:method before it can build an http.Header.
type DecodedHeaders struct {
	Pseudo  map[string]string
	Headers http.Header
}

// Decode parses an HPACK-encoded header block.
func (c *HeaderCodec) Decode(block []byte) (*DecodedHeaders, error) {
	result := &DecodedHeaders{Pseudo: make(map[string]string), Headers: make(http.Header)}
	c.decoder.SetEmitFunc(func(f hpack.HeaderField) {
		if strings.HasPrefix(f.Name, ":") {
			result.Pseudo[f.Name] = f.Value
			return
		}
		canon := http.CanonicalHeaderKey(f.Name)
		result.Headers[canon] = append(result.Headers[canon], f.Value)
	})
	if _, err := c.decoder.Write(block); err != nil {
		return nil, errors.NewProtocolError("decoding HPACK block", err)
	}
	if err := c.decoder.Close(); err != nil {
		return nil, errors.NewProtocolError("closing HPACK decoder", err)
	}
	return result, nil
}

func isConnectionSpecificHeader(lowerName string) bool {
	switch lowerName {
	case "connection", "keep-alive", "proxy-connection", "transfer-encoding", "upgrade":
		return true
	default:
		return false
	}
}
