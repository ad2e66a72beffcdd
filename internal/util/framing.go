package util

import (
	"bufio"
	"bytes"
	"io"
)

// MaxLineLen bounds a single line of an identifier file
const MaxLineLen = 1 << 20

// ReadLines reads up to n lines of r. Line endings, \n or \r\n, are
// stripped and empty lines are skipped. A negative n reads r to the end.
func ReadLines(r io.Reader, n int64) ([][]byte, error) {
	var lines [][]byte
	if n > 0 {
		lines = make([][]byte, 0, n)
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxLineLen)
	for i := int64(0); n < 0 || i < n; i++ {
		if !scanner.Scan() {
			break
		}
		line := bytes.TrimSuffix(scanner.Bytes(), []byte{'\r'})
		if len(line) == 0 {
			continue
		}
		// the scanner reuses its buffer
		lines = append(lines, append([]byte(nil), line...))
	}
	return lines, scanner.Err()
}
