package client

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

func gzipBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return buf.Bytes()
}

func brotliBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	bw := brotli.NewWriter(&buf)
	if _, err := bw.Write(data); err != nil {
		t.Fatalf("brotli write: %v", err)
	}
	if err := bw.Close(); err != nil {
		t.Fatalf("brotli close: %v", err)
	}
	return buf.Bytes()
}

func zstdBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf)
	if err != nil {
		t.Fatalf("zstd writer: %v", err)
	}
	if _, err := zw.Write(data); err != nil {
		t.Fatalf("zstd write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zstd close: %v", err)
	}
	return buf.Bytes()
}

func zlibBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		t.Fatalf("zlib write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zlib close: %v", err)
	}
	return buf.Bytes()
}

func rawDeflateBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	fw, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		t.Fatalf("flate writer: %v", err)
	}
	if _, err := fw.Write(data); err != nil {
		t.Fatalf("flate write: %v", err)
	}
	if err := fw.Close(); err != nil {
		t.Fatalf("flate close: %v", err)
	}
	return buf.Bytes()
}

func TestReadBody_Encodings(t *testing.T) {
	payload := []byte(strings.Repeat("function f(){return 1}\n", 40))

	tests := []struct {
		name     string
		encoding string
		body     []byte
	}{
		{name: "identity", encoding: "", body: payload},
		{name: "explicit identity", encoding: "identity", body: payload},
		{name: "gzip", encoding: "gzip", body: gzipBytes(t, payload)},
		{name: "gzip uppercase", encoding: "GZIP", body: gzipBytes(t, payload)},
		{name: "brotli", encoding: "br", body: brotliBytes(t, payload)},
		{name: "zstd", encoding: "zstd", body: zstdBytes(t, payload)},
		{name: "deflate zlib", encoding: "deflate", body: zlibBytes(t, payload)},
		{name: "deflate raw", encoding: "deflate", body: rawDeflateBytes(t, payload)},
		{name: "stacked", encoding: "gzip, br", body: brotliBytes(t, gzipBytes(t, payload))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := readBody(bytes.NewReader(tt.body), tt.encoding, 1<<20)
			if err != nil {
				t.Fatalf("readBody() error = %v", err)
			}
			if !bytes.Equal(got, payload) {
				t.Errorf("readBody() = %d bytes, want %d", len(got), len(payload))
			}
		})
	}
}

func TestReadBody_EmptyCompressedBody(t *testing.T) {
	for _, enc := range []string{"gzip", "deflate"} {
		got, err := readBody(bytes.NewReader(nil), enc, 1024)
		if err != nil {
			t.Errorf("readBody(empty, %s) error = %v", enc, err)
		}
		if len(got) != 0 {
			t.Errorf("readBody(empty, %s) = %q", enc, got)
		}
	}
}

func TestReadBody_Limit(t *testing.T) {
	payload := bytes.Repeat([]byte("a"), 1000)

	_, err := readBody(bytes.NewReader(gzipBytes(t, payload)), "gzip", 999)
	if !errors.Is(err, ErrBodyTooLarge) {
		t.Fatalf("readBody() error = %v, want ErrBodyTooLarge", err)
	}

	got, err := readBody(bytes.NewReader(payload), "", 1000)
	if err != nil || len(got) != 1000 {
		t.Fatalf("readBody() at limit = %d bytes, err %v", len(got), err)
	}
}

func TestReadBody_Unsupported(t *testing.T) {
	if _, err := readBody(bytes.NewReader([]byte("x")), "compress", 1024); err == nil {
		t.Fatal("readBody() expected error for unsupported coding")
	}
}

func TestExcerpt(t *testing.T) {
	long := strings.Repeat("e", 2000)

	if got := excerpt(bytes.NewReader([]byte("short")), ""); got != "short" {
		t.Errorf("excerpt() = %q, want short", got)
	}
	if got := excerpt(bytes.NewReader(gzipBytes(t, []byte(long))), "gzip"); len(got) != maxExcerpt {
		t.Errorf("len(excerpt(gzip)) = %d, want %d", len(got), maxExcerpt)
	}
	if got := excerpt(bytes.NewReader([]byte("not gzip")), "gzip"); got != "" {
		t.Errorf("excerpt(corrupt) = %q, want empty", got)
	}
}
