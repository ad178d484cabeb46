package parser

import (
	"bytes"
	"compress/bzip2"
	"compress/gzip"
	"fmt"
	"io"
	"os"

	"github.com/ulikunitz/xz"
)

// magic byte tables, same values the teacher's fileloader/compression.go
// uses for DetectCompressionByMagic, needed here because a file handed
// to the registry may be a compressed-at-rest re-ingest rather than a
// product of the chunked-upload pipeline (which only ever declares
// gzip, spec §4.2).
var (
	gzipMagic  = []byte{0x1f, 0x8b}
	bzip2Magic = []byte{0x42, 0x5a, 0x68}
	xzMagic    = []byte{0xfd, 0x37, 0x7a, 0x58, 0x5a, 0x00}
)

func detectCompression(head []byte) string {
	switch {
	case bytes.HasPrefix(head, xzMagic):
		return "xz"
	case bytes.HasPrefix(head, bzip2Magic):
		return "bzip2"
	case bytes.HasPrefix(head, gzipMagic):
		return "gzip"
	default:
		return "none"
	}
}

// openDialectReader opens path and, if its leading bytes match a known
// compression magic, wraps it in a streaming decompressor so sniffing
// and parsing both see the logical (uncompressed) byte stream.
func openDialectReader(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("parser: open %s: %w", path, err)
	}

	head := make([]byte, 6)
	n, _ := io.ReadFull(f, head)
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, fmt.Errorf("parser: seek %s: %w", path, err)
	}

	switch detectCompression(head[:n]) {
	case "gzip":
		gz, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("parser: gzip reader: %w", err)
		}
		return &wrappedReader{inner: gz, file: f}, nil
	case "bzip2":
		return &wrappedReader{inner: bzip2.NewReader(f), file: f}, nil
	case "xz":
		xr, err := xz.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("parser: xz reader: %w", err)
		}
		return &wrappedReader{inner: xr, file: f}, nil
	default:
		return f, nil
	}
}

type wrappedReader struct {
	inner io.Reader
	file  *os.File
}

func (w *wrappedReader) Read(p []byte) (int, error) { return w.inner.Read(p) }

func (w *wrappedReader) Close() error {
	if c, ok := w.inner.(io.Closer); ok {
		c.Close()
	}
	return w.file.Close()
}

// readHead opens path (transparently decompressing) and returns up to
// maxBytes from the start, for sniffing. The returned reader has
// already been consumed to produce head and must not be reused by the
// caller; re-open for the real parse.
func readHead(path string, maxBytes int) ([]byte, error) {
	r, err := openDialectReader(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	buf := make([]byte, maxBytes)
	n, err := io.ReadFull(r, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, err
	}
	return buf[:n], nil
}
