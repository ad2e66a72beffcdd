package util

import (
	"bufio"
	"io"
)

// Count counts the lines of r and rewinds it
func Count(r io.ReadSeeker) (int64, error) {
	var n int64
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxLineLen)
	for scanner.Scan() {
		n++
	}
	if err := scanner.Err(); err != nil {
		return n, err
	}
	_, err := r.Seek(0, io.SeekStart)
	return n, err
}
