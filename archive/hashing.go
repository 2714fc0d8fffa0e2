package archive

import (
	"errors"
	"hash"
	"io"
)

var errOverflow = errors.New("counter overflow")

// hashingReader wraps an io.Reader and computes a hash of all data read.
type hashingReader struct {
	r io.Reader
	h hash.Hash
}

// Read implements io.Reader.
func (hr *hashingReader) Read(p []byte) (int, error) {
	n, err := hr.r.Read(p)
	if n > 0 {
		_, _ = hr.h.Write(p[:n]) //nolint:errcheck // hash writes never fail
	}
	return n, err
}

// countingWriter wraps a writer and counts bytes written.
type countingWriter struct {
	w io.Writer
	n uint64
}

// Write implements io.Writer.
func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	if n > 0 {
		//nolint:gosec // n is guaranteed non-negative by io.Writer contract
		if cw.n > ^uint64(0)-uint64(n) {
			return n, errOverflow
		}
		cw.n += uint64(n) //nolint:gosec // overflow checked above
	}
	return n, err
}

// ensureNoExtra reads from r and returns an error if any data is available.
// Reading to the end also makes gzip verify its trailer.
func ensureNoExtra(r io.Reader) error {
	var scratch [1]byte
	n, err := r.Read(scratch[:])
	if n > 0 {
		return errors.New("content exceeds recorded size")
	}
	if err == io.EOF {
		return nil
	}
	return err
}
