// Package params holds the public parameter set shared by the sender and the
// receiver: encryption context, table layout, item and label sizes and the
// query powers.
package params

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math/big"
	"math/bits"

	"github.com/optable/hepsi/internal/crypto"
	"github.com/optable/hepsi/internal/hash"
	"github.com/optable/hepsi/internal/poly"
	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

const (
	// FingerprintLen is the byte length of a parameter fingerprint
	FingerprintLen = 32
	// MaxItemBitCount is the width of a hashed item
	MaxItemBitCount = 128
	// MaxHashFuncCount bounds the number of probe locations per item
	MaxHashFuncCount = 8

	GroupR255 = "r255"
	GroupGR   = "gr"
)

var ErrInvalidParams = errors.New("invalid parameters")

// HE describes the BGV encryption context
type HE struct {
	LogN             int    `yaml:"log_n"`
	LogQ             []int  `yaml:"log_q"`
	LogP             []int  `yaml:"log_p"`
	PlaintextModulus uint64 `yaml:"plaintext_modulus"`
}

// Table describes how hashed items are laid out in bundles
type Table struct {
	BundleCount    int    `yaml:"bundle_count"`
	MaxItemsPerBin int    `yaml:"max_items_per_bin"`
	HashFuncCount  int    `yaml:"hash_func_count"`
	HashType       string `yaml:"hash_type"`
	HashSeed       string `yaml:"hash_seed"`
	MaxEvictions   int    `yaml:"max_evictions"`
}

// Item describes hashed items and their labels
type Item struct {
	BitCount       int    `yaml:"bit_count"`
	LabelByteCount int    `yaml:"label_byte_count"`
	NonceByteCount int    `yaml:"nonce_byte_count"`
	LabelCipher    string `yaml:"label_cipher"`
}

// Query lists the source powers a receiver encrypts
type Query struct {
	Powers []int `yaml:"powers"`
}

// OPRF selects the ristretto255 backend
type OPRF struct {
	Group string `yaml:"group"`
}

// Params is the full parameter set. It is read-only once validated.
type Params struct {
	HE    HE    `yaml:"he"`
	Table Table `yaml:"table"`
	Item  Item  `yaml:"item"`
	Query Query `yaml:"query"`
	OPRF  OPRF  `yaml:"oprf"`
}

// Default returns a parameter set for N=8192 slots with T=65537, four
// bundles of 2048 bins holding up to 8 items each.
func Default() *Params {
	return &Params{
		HE: HE{
			LogN:             13,
			LogQ:             []int{54, 54, 54},
			LogP:             []int{55},
			PlaintextModulus: 65537,
		},
		Table: Table{
			BundleCount:    4,
			MaxItemsPerBin: 8,
			HashFuncCount:  3,
			HashType:       "metro",
			HashSeed:       "hepsi",
			MaxEvictions:   200,
		},
		Item: Item{
			BitCount:       64,
			LabelByteCount: 16,
			NonceByteCount: 4,
			LabelCipher:    "blake3",
		},
		Query: Query{
			Powers: []int{1, 3, 4},
		},
		OPRF: OPRF{
			Group: GroupR255,
		},
	}
}

// Load reads a YAML (or JSON) parameter file. Fields absent from the file
// keep their default value.
func Load(r io.Reader) (*Params, error) {
	p := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(p); err != nil && err != io.EOF {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Save writes p in the format Load reads
func (p *Params) Save(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	if err := enc.Encode(p); err != nil {
		return err
	}
	return enc.Close()
}

// MarshalBinary is the canonical encoding of p
func (p *Params) MarshalBinary() ([]byte, error) {
	var b bytes.Buffer
	if err := p.Save(&b); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// UnmarshalBinary decodes and validates a canonical encoding
func (p *Params) UnmarshalBinary(b []byte) error {
	q, err := Load(bytes.NewReader(b))
	if err != nil {
		return err
	}
	*p = *q
	return nil
}

// Fingerprint identifies the parameter set. Two parties only interoperate
// when their fingerprints are equal.
func (p *Params) Fingerprint() [FingerprintLen]byte {
	b, err := p.MarshalBinary()
	if err != nil {
		// plain struct of ints and strings
		panic(err)
	}
	return blake3.Sum256(b)
}

// Validate checks the internal consistency of p
func (p *Params) Validate() error {
	invalid := func(format string, a ...interface{}) error {
		return fmt.Errorf("%w: %s", ErrInvalidParams, fmt.Sprintf(format, a...))
	}

	if p.HE.LogN < 10 || p.HE.LogN > 17 {
		return invalid("log_n %d out of range [10, 17]", p.HE.LogN)
	}
	if len(p.HE.LogQ) == 0 {
		return invalid("log_q is empty")
	}
	t := p.HE.PlaintextModulus
	if t < 3 || !isPrime(t) {
		return invalid("plaintext modulus %d is not an odd prime", t)
	}
	if t%(2*uint64(p.N())) != 1 {
		return invalid("plaintext modulus %d does not support batching with N=%d", t, p.N())
	}
	if p.Item.BitCount < p.BitsPerFelt() || p.Item.BitCount > MaxItemBitCount {
		return invalid("item bit count %d out of range [%d, %d]", p.Item.BitCount, p.BitsPerFelt(), MaxItemBitCount)
	}
	if p.FeltsPerItem() > p.N() {
		return invalid("%d felts per item do not fit in %d slots", p.FeltsPerItem(), p.N())
	}
	if p.Table.BundleCount < 1 {
		return invalid("bundle count must be positive")
	}
	if p.Table.MaxItemsPerBin < 1 {
		return invalid("max items per bin must be positive")
	}
	if p.Table.HashFuncCount < 1 || p.Table.HashFuncCount > MaxHashFuncCount {
		return invalid("hash func count %d out of range [1, %d]", p.Table.HashFuncCount, MaxHashFuncCount)
	}
	if _, err := hash.ParseType(p.Table.HashType); err != nil {
		return invalid("%v", err)
	}
	if p.Table.MaxEvictions < 0 {
		return invalid("max evictions must not be negative")
	}
	if p.Item.LabelByteCount < 0 || p.Item.LabelByteCount > 1024 {
		return invalid("label byte count %d out of range [0, 1024]", p.Item.LabelByteCount)
	}
	if p.Item.NonceByteCount < 0 || p.Item.NonceByteCount > 16 {
		return invalid("nonce byte count %d out of range [0, 16]", p.Item.NonceByteCount)
	}
	if _, err := crypto.ParseMode(p.Item.LabelCipher); err != nil {
		return invalid("%v", err)
	}
	if len(p.Query.Powers) == 0 || p.Query.Powers[0] != 1 {
		return invalid("query powers must start with 1")
	}
	for i, s := range p.Query.Powers {
		if s > p.Table.MaxItemsPerBin {
			return invalid("query power %d exceeds max items per bin %d", s, p.Table.MaxItemsPerBin)
		}
		if i > 0 && s <= p.Query.Powers[i-1] {
			return invalid("query powers must be strictly increasing")
		}
	}
	if d := p.QueryDepth(); d > len(p.HE.LogQ)-1 {
		return invalid("query powers need multiplicative depth %d, log_q allows %d", d, len(p.HE.LogQ)-1)
	}
	switch p.OPRF.Group {
	case GroupR255, GroupGR:
	default:
		return invalid("unknown oprf group %q", p.OPRF.Group)
	}
	return nil
}

// QueryDepth is the ciphertext multiplication depth the sender needs to
// compute every power up to MaxItemsPerBin from the query powers.
func (p *Params) QueryDepth() int {
	return poly.NewPowersDAG(p.Query.Powers, p.Table.MaxItemsPerBin).Depth()
}

// N is the number of batching slots
func (p *Params) N() int {
	return 1 << p.HE.LogN
}

// BitsPerFelt is the number of item bits packed in one field element
func (p *Params) BitsPerFelt() int {
	return bits.Len64(p.HE.PlaintextModulus) - 1
}

// FeltsPerItem is the number of slots one item occupies
func (p *Params) FeltsPerItem() int {
	return (p.Item.BitCount + p.BitsPerFelt() - 1) / p.BitsPerFelt()
}

// BinsPerBundle is the number of bins one bundle batches
func (p *Params) BinsPerBundle() int {
	return p.N() / p.FeltsPerItem()
}

// TableSize is the total number of bins across bundles
func (p *Params) TableSize() int {
	return p.Table.BundleCount * p.BinsPerBundle()
}

// LabelFieldByteCount is the size of a stored label: nonce followed by the
// encrypted label.
func (p *Params) LabelFieldByteCount() int {
	return p.Item.NonceByteCount + p.Item.LabelByteCount
}

// LabelPartCount is the number of label ciphertexts a labeled result carries
func (p *Params) LabelPartCount() int {
	perPart := p.FeltsPerItem() * p.BitsPerFelt()
	return (p.LabelFieldByteCount()*8 + perPart - 1) / perPart
}

// Capacity is the number of items the table can hold at most
func (p *Params) Capacity() int {
	return p.TableSize() * p.Table.MaxItemsPerBin
}

// Hashers derives one salted hasher per probe location from the public
// hash seed.
func (p *Params) Hashers() ([]hash.Hasher, error) {
	typ, err := hash.ParseType(p.Table.HashType)
	if err != nil {
		return nil, err
	}

	hashers := make([]hash.Hasher, p.Table.HashFuncCount)
	for i := range hashers {
		salt := make([]byte, hash.SaltLength)
		h := blake3.New()
		h.Write([]byte(p.Table.HashSeed))
		h.Write([]byte{byte(i)})
		if _, err := h.Digest().Read(salt); err != nil {
			return nil, err
		}
		if hashers[i], err = hash.New(typ, salt); err != nil {
			return nil, err
		}
	}
	return hashers, nil
}

func isPrime(n uint64) bool {
	return new(big.Int).SetUint64(n).ProbablyPrime(20)
}

// LabelCipherMode is the label cipher in use
func (p *Params) LabelCipherMode() int {
	mode, _ := crypto.ParseMode(p.Item.LabelCipher)
	return mode
}
