// Package items generates test identifiers: a common segment shared by the
// sender and the receiver, mixed with fresh identifiers on each side.
//
// identifiers are random blobs expressed in hex and prefixed with a string
//
// example:
//
//	e:0e1f461bbefa6e07cc2ef06b9ee1ed25
//	e:59245d7c68b28404e068b15cba430082
//	e:8d4acbaaec5a4b00465fa6db04deeb7d
package items

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"log"
	"sync"
)

const (
	Prefix      = "e:"
	LabelPrefix = "l:"
	HashLen     = 16
	// Separator splits an identifier from its label on a sender line
	Separator = ','
)

// Common generates the common segment
func Common(n int) (common []byte) {
	common = make([]byte, n*HashLen)
	if _, err := rand.Read(common); err != nil {
		log.Fatalf("could not generate %d hashes for the common portion", n)
	}
	return
}

// Identifiers splits the common segment into prefixed identifiers
func Identifiers(common []byte) (out [][]byte) {
	for b := range commons(common) {
		out = append(out, prefix(b))
	}
	return
}

// Mix in from common and add n new fresh identifiers
func Mix(common []byte, n int) <-chan []byte {
	return mixes(commons(common), freshes(n))
}

// Label derives the test label of an identifier. It fits in 16 bytes.
func Label(identifier []byte) []byte {
	body := bytes.TrimPrefix(identifier, []byte(Prefix))
	if len(body) > 14 {
		body = body[:14]
	}
	return append([]byte(LabelPrefix), body...)
}

// Line formats a sender line, labeled when label is not nil
func Line(identifier, label []byte) []byte {
	out := append([]byte{}, identifier...)
	if label != nil {
		out = append(out, Separator)
		out = append(out, label...)
	}
	return append(out, '\n')
}

// commons will write HashLen chunks from b to a channel and then close it
func commons(b []byte) <-chan []byte {
	out := make(chan []byte)
	go func() {
		defer close(out)
		for i := 0; i < len(b)/HashLen; i++ {
			out <- b[i*HashLen : i*HashLen+HashLen]
		}
	}()
	return out
}

// freshes will write a total number of fresh hashes to a channel and then close it
func freshes(total int) <-chan []byte {
	out := make(chan []byte)
	go func() {
		defer close(out)
		for i := 0; i < total; i++ {
			b := make([]byte, HashLen)
			if _, err := rand.Read(b); err == nil {
				out <- b
			}
		}
	}()
	return out
}

// prefix a byte value with the local preset prefix
func prefix(value []byte) []byte {
	out := make([]byte, len(Prefix)+hex.EncodedLen(len(value)))
	copy(out, Prefix)
	hex.Encode(out[len(Prefix):], value)
	return out
}

// mixes will read c1 & c2 to exhaustion, add the prefix,
// write the output a channel and then close it
func mixes(c1, c2 <-chan []byte) <-chan []byte {
	var ws sync.WaitGroup
	out := make(chan []byte)
	ws.Add(2)
	f := func(c <-chan []byte) {
		defer ws.Done()
		for b := range c {
			out <- prefix(b)
		}
	}
	// fan in c1 & c2
	go f(c1)
	go f(c2)
	go func() {
		ws.Wait()
		close(out)
	}()

	return out
}
