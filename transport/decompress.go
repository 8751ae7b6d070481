package transport

import (
	"compress/flate"
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
)

// DecodeBody wraps a response body with the decoder matching its
// Content-Encoding and strips the encoding headers. Unknown encodings
// are passed through untouched.
func DecodeBody(resp *http.Response) error {
	encoding := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding")))
	if encoding == "" || encoding == "identity" {
		return nil
	}

	reader, err := newDecoder(encoding, resp.Body)
	if err != nil {
		return err
	}
	if reader == nil {
		return nil
	}

	resp.Body = &decodedBody{reader: reader, underlying: resp.Body}
	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")
	resp.ContentLength = -1
	resp.Uncompressed = true
	return nil
}

// newDecoder returns a decoder for the given encoding, or nil when the
// encoding is not one we produce.
func newDecoder(encoding string, r io.Reader) (io.Reader, error) {
	switch encoding {
	case "gzip":
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		return zr, nil
	case "deflate":
		return flate.NewReader(r), nil
	case "br":
		return brotli.NewReader(r), nil
	case "zstd":
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		return zr.IOReadCloser(), nil
	default:
		return nil, nil
	}
}

// decodedBody closes both the decoder and the wire body so pooled
// connections still get released.
type decodedBody struct {
	reader     io.Reader
	underlying io.ReadCloser
}

func (b *decodedBody) Read(p []byte) (int, error) {
	n, err := b.reader.Read(p)
	if err == io.EOF {
		// Drain the wire body so the connection can be reused.
		io.Copy(io.Discard, b.underlying)
	}
	return n, err
}

func (b *decodedBody) Close() error {
	if closer, ok := b.reader.(io.Closer); ok {
		closer.Close()
	}
	return b.underlying.Close()
}
