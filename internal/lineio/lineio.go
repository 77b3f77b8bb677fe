// Package lineio reads newline-delimited input with a per-line size limit.
package lineio

import (
	"bufio"
	"errors"
)

// ReadLine reads up to and including the next '\n' and returns the line with its size,
// the length without the newline. When limit is positive and the size exceeds it, the
// line is consumed but not kept and the returned line is nil; at most limit+1 bytes are
// buffered along the way. The error is nil when a newline was found, otherwise it is
// the error that ended the line.
func ReadLine(br *bufio.Reader, limit int) ([]byte, int, error) {
	var (
		line []byte
		size int
	)
	for {
		frag, err := br.ReadSlice('\n')
		size += len(frag)
		if limit <= 0 || size <= limit+1 {
			line = append(line, frag...)
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if err == nil {
			size--
		}
		if Oversized(size, limit) {
			return nil, size, err
		}
		return line, size, err
	}
}

// Oversized reports whether a line of size bytes breaks limit.
func Oversized(size, limit int) bool {
	return limit > 0 && size > limit
}
