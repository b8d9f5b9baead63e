package client

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// AcceptEncoding is advertised on every outbound fetch; readBody can decode each of them.
const AcceptEncoding = "gzip, deflate, br, zstd"

// readBody reads r, undoing the Content-Encoding layers, and fails with
// ErrBodyTooLarge once the decoded size passes limit.
func readBody(r io.Reader, contentEncoding string, limit int64) ([]byte, error) {
	dec, closeAll, err := decode(r, contentEncoding)
	if err != nil {
		return nil, err
	}
	defer closeAll()

	data, err := io.ReadAll(io.LimitReader(dec, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w (%d bytes)", ErrBodyTooLarge, limit)
	}
	return data, nil
}

// decode wraps r in one decoder per coding, applied in reverse order of the header.
func decode(r io.Reader, contentEncoding string) (io.Reader, func(), error) {
	var closers []io.Closer
	closeAll := func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}

	codings := strings.Split(contentEncoding, ",")
	for i := len(codings) - 1; i >= 0; i-- {
		dec, err := decoder(strings.ToLower(strings.TrimSpace(codings[i])), r)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		if c, ok := dec.(io.Closer); ok {
			closers = append(closers, c)
		}
		r = dec
	}
	return r, closeAll, nil
}

func decoder(coding string, r io.Reader) (io.Reader, error) {
	switch coding {
	case "", "identity":
		return r, nil
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(r)
		if err == io.EOF {
			return bytes.NewReader(nil), nil
		}
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		return zr, nil
	case "deflate":
		return newDeflateReader(r)
	case "br":
		return brotli.NewReader(r), nil
	case "zstd":
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		return zr.IOReadCloser(), nil
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", coding)
	}
}

// newDeflateReader accepts both zlib-wrapped and raw deflate streams;
// servers disagree on what "deflate" means.
func newDeflateReader(r io.Reader) (io.Reader, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(2)
	if err == nil && isZlibHeader(head) {
		zr, err := zlib.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("deflate: %w", err)
		}
		return zr, nil
	}
	if err == io.EOF && len(head) == 0 {
		return bytes.NewReader(nil), nil
	}
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("deflate: %w", err)
	}
	return flate.NewReader(br), nil
}

func isZlibHeader(b []byte) bool {
	if len(b) < 2 || b[0]&0x0f != 8 {
		return false
	}
	return (uint16(b[0])<<8|uint16(b[1]))%31 == 0
}

// excerpt returns up to maxExcerpt bytes of a possibly encoded error body.
// Undecodable bodies yield an empty excerpt.
func excerpt(r io.Reader, contentEncoding string) string {
	dec, closeAll, err := decode(r, contentEncoding)
	if err != nil {
		return ""
	}
	defer closeAll()

	data, err := io.ReadAll(io.LimitReader(dec, maxExcerpt))
	if err != nil && len(data) == 0 {
		return ""
	}
	return string(bytes.ToValidUTF8(data, []byte("\uFFFD")))
}
