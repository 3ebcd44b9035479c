package core

// streaming.go prepares an uploaded byte stream for the CSV tokenizer
// without loading it into memory:
//
//   - StreamingCountingReader: tracks raw bytes read for progress reporting
//   - Decompress: transparently unwraps gzip, bzip2 and xz input
//   - DecodeReader: converts the dialect's encoding to UTF-8, honouring a
//     byte order mark and replacing invalid sequences
//
// Use WrapForStreaming to apply all of them in the correct order.

import (
	"bufio"
	"bytes"
	"compress/bzip2"
	"compress/gzip"
	"fmt"
	"io"

	"github.com/ulikunitz/xz"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// StreamingCountingReader wraps an io.Reader to track bytes read.
type StreamingCountingReader struct {
	reader    io.Reader
	BytesRead int64
	Total     int64 // If known (0 if unknown)
}

// NewStreamingCountingReader creates a counting reader with optional total size.
func NewStreamingCountingReader(r io.Reader, total int64) *StreamingCountingReader {
	return &StreamingCountingReader{
		reader: r,
		Total:  total,
	}
}

// Read implements io.Reader.
func (r *StreamingCountingReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	r.BytesRead += int64(n)
	return n, err
}

// Progress returns the read progress as a percentage (0-100).
// Returns 0 if total is unknown.
func (r *StreamingCountingReader) Progress() int {
	if r.Total <= 0 {
		return 0
	}
	return int(r.BytesRead * 100 / r.Total)
}

// Compression is the container format detected on an input stream.
type Compression int

const (
	CompressionNone Compression = iota
	CompressionGzip
	CompressionBzip2
	CompressionXZ
)

func (c Compression) String() string {
	switch c {
	case CompressionGzip:
		return "gzip"
	case CompressionBzip2:
		return "bzip2"
	case CompressionXZ:
		return "xz"
	default:
		return "none"
	}
}

var (
	gzipMagic  = []byte{0x1f, 0x8b}
	bzip2Magic = []byte{0x42, 0x5a, 0x68}
	xzMagic    = []byte{0xfd, 0x37, 0x7a, 0x58, 0x5a, 0x00}

	// A bzip2 stream continues with a block size digit and then either a
	// block header or the end of stream marker.
	bzip2Block = []byte{0x31, 0x41, 0x59, 0x26, 0x53, 0x59}
	bzip2End   = []byte{0x17, 0x72, 0x45, 0x38, 0x50, 0x90}
)

// headerLen covers the longest signature checked by Decompress.
const headerLen = 10

// isBzip2 reports whether head starts a bzip2 stream. "BZh" alone is
// plausible CSV text, so the block size and block magic must match too.
func isBzip2(head []byte) bool {
	if len(head) < headerLen || !bytes.HasPrefix(head, bzip2Magic) {
		return false
	}
	if head[3] < '1' || head[3] > '9' {
		return false
	}
	return bytes.Equal(head[4:10], bzip2Block) || bytes.Equal(head[4:10], bzip2End)
}

// Decompress sniffs the magic bytes of r and returns a reader over the
// decompressed content. Plain input is returned unchanged.
func Decompress(r io.Reader) (io.Reader, Compression, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(headerLen)
	if err != nil && err != io.EOF {
		return nil, CompressionNone, fmt.Errorf("read header: %w", err)
	}

	switch {
	case bytes.HasPrefix(head, gzipMagic):
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, CompressionGzip, fmt.Errorf("open gzip stream: %w", err)
		}
		return gz, CompressionGzip, nil
	case isBzip2(head):
		return bzip2.NewReader(br), CompressionBzip2, nil
	case bytes.HasPrefix(head, xzMagic):
		xr, err := xz.NewReader(br)
		if err != nil {
			return nil, CompressionXZ, fmt.Errorf("open xz stream: %w", err)
		}
		return xr, CompressionXZ, nil
	}
	return br, CompressionNone, nil
}

// DecodeReader returns a reader producing UTF-8 from r, which is encoded in
// the named encoding. A leading byte order mark overrides the name.
func DecodeReader(r io.Reader, encodingName string) (io.Reader, error) {
	enc, err := LookupEncoding(encodingName)
	if err != nil {
		return nil, err
	}
	return transform.NewReader(r, unicode.BOMOverride(enc.NewDecoder())), nil
}

// WrapForStreaming chains counting, decompression and decoding.
//
// The order matters:
// 1. Counting sits on the raw input so progress matches the file size
// 2. Decompression sees the raw bytes
// 3. Decoding runs on the decompressed text
func WrapForStreaming(r io.Reader, totalSize int64, encodingName string) (io.Reader, *StreamingCountingReader, error) {
	counter := NewStreamingCountingReader(r, totalSize)

	plain, _, err := Decompress(counter)
	if err != nil {
		return nil, nil, fmt.Errorf("encoding error: %w", err)
	}

	decoded, err := DecodeReader(plain, encodingName)
	if err != nil {
		return nil, nil, err
	}
	return decoded, counter, nil
}
