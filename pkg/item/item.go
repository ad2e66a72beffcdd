// Package item defines the values flowing through the matching engine: raw
// items, their OPRF hashed form, label keys and labels, and the packing of a
// hashed item into field elements.
package item

import (
	"github.com/zeebo/blake3"
)

const (
	// ItemLen is the width of a normalized item
	ItemLen = 16
	// HashedItemLen is the width of an OPRF hashed item
	HashedItemLen = 16
	// LabelKeyLen is the width of a label encryption key
	LabelKeyLen = 16
)

// Item is a raw domain value normalized to 128 bits
type Item [ItemLen]byte

// HashedItem is the OPRF output an item is matched on
type HashedItem [HashedItemLen]byte

// LabelKey encrypts the label stored with a hashed item. Only a party that
// knows the raw item can derive it.
type LabelKey [LabelKeyLen]byte

// Label is an opaque payload attached to a sender item
type Label []byte

// New normalizes a raw value
func New(raw []byte) Item {
	var it Item
	h := blake3.New()
	h.Write(raw)
	h.Digest().Read(it[:])
	return it
}

// FromString normalizes a string value
func FromString(s string) Item {
	return New([]byte(s))
}

// FromStrings normalizes a list of string values
func FromStrings(ss []string) []Item {
	items := make([]Item, len(ss))
	for i, s := range ss {
		items[i] = FromString(s)
	}
	return items
}

// Pad returns l zero padded, or truncated, to n bytes
func (l Label) Pad(n int) []byte {
	out := make([]byte, n)
	copy(out, l)
	return out
}
