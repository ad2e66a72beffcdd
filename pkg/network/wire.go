package network

import (
	"fmt"
	"math"

	"github.com/optable/hepsi/pkg/params"
	"google.golang.org/protobuf/encoding/protowire"
)

// message payloads are plain protobuf wire format, written and read field by
// field without generated code.

type encoder struct {
	b []byte
}

func (e *encoder) bytes(num protowire.Number, v []byte) {
	e.b = protowire.AppendTag(e.b, num, protowire.BytesType)
	e.b = protowire.AppendBytes(e.b, v)
}

func (e *encoder) uint(num protowire.Number, v int) {
	e.b = protowire.AppendTag(e.b, num, protowire.VarintType)
	e.b = protowire.AppendVarint(e.b, uint64(v))
}

// field is one decoded field. Only one of bytes or varint is set depending
// on the wire type.
type field struct {
	num    protowire.Number
	typ    protowire.Type
	bytes  []byte
	varint uint64
}

func (f field) wantBytes() ([]byte, error) {
	if f.typ != protowire.BytesType {
		return nil, fmt.Errorf("%w: field %d has wire type %d", ErrMalformedMessage, f.num, f.typ)
	}
	return f.bytes, nil
}

func (f field) wantInt() (int, error) {
	if f.typ != protowire.VarintType {
		return 0, fmt.Errorf("%w: field %d has wire type %d", ErrMalformedMessage, f.num, f.typ)
	}
	if f.varint > math.MaxInt32 {
		return 0, fmt.Errorf("%w: field %d overflows", ErrMalformedMessage, f.num)
	}
	return int(f.varint), nil
}

// decode walks b and hands every field to visit. Unknown fields are skipped
// by visit returning nil.
func decode(b []byte, visit func(f field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformedMessage, protowire.ParseError(n))
		}
		b = b[n:]

		f := field{num: num, typ: typ}
		switch typ {
		case protowire.BytesType:
			f.bytes, n = protowire.ConsumeBytes(b)
		case protowire.VarintType:
			f.varint, n = protowire.ConsumeVarint(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformedMessage, protowire.ParseError(n))
		}
		b = b[n:]

		if err := visit(f); err != nil {
			return err
		}
	}
	return nil
}

func (*ParamsRequest) marshal() ([]byte, error) { return nil, nil }

func (*ParamsRequest) unmarshal(b []byte) error {
	return decode(b, func(field) error { return nil })
}

func (m *ParamsResponse) marshal() ([]byte, error) {
	if m.Params == nil {
		return nil, fmt.Errorf("params response without params")
	}
	b, err := m.Params.MarshalBinary()
	if err != nil {
		return nil, err
	}
	var e encoder
	e.bytes(1, b)
	return e.b, nil
}

func (m *ParamsResponse) unmarshal(b []byte) error {
	err := decode(b, func(f field) error {
		if f.num != 1 {
			return nil
		}
		v, err := f.wantBytes()
		if err != nil {
			return err
		}
		p := new(params.Params)
		if err := p.UnmarshalBinary(v); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
		m.Params = p
		return nil
	})
	if err != nil {
		return err
	}
	if m.Params == nil {
		return fmt.Errorf("%w: params response without params", ErrMalformedMessage)
	}
	return nil
}

func marshalElements(elements [][]byte) ([]byte, error) {
	var e encoder
	for _, el := range elements {
		e.bytes(1, el)
	}
	return e.b, nil
}

func unmarshalElements(b []byte) ([][]byte, error) {
	var elements [][]byte
	err := decode(b, func(f field) error {
		if f.num != 1 {
			return nil
		}
		v, err := f.wantBytes()
		elements = append(elements, v)
		return err
	})
	return elements, err
}

func (m *OPRFRequest) marshal() ([]byte, error) { return marshalElements(m.Elements) }

func (m *OPRFRequest) unmarshal(b []byte) (err error) {
	m.Elements, err = unmarshalElements(b)
	return
}

func (m *OPRFResponse) marshal() ([]byte, error) { return marshalElements(m.Elements) }

func (m *OPRFResponse) unmarshal(b []byte) (err error) {
	m.Elements, err = unmarshalElements(b)
	return
}

func (p *Power) marshal() []byte {
	var e encoder
	e.uint(1, p.Exponent)
	e.bytes(2, p.Ciphertext)
	return e.b
}

func (p *Power) unmarshal(b []byte) error {
	return decode(b, func(f field) (err error) {
		switch f.num {
		case 1:
			p.Exponent, err = f.wantInt()
		case 2:
			p.Ciphertext, err = f.wantBytes()
		}
		return
	})
}

func (r *QueryRow) marshal() []byte {
	var e encoder
	e.uint(1, r.Bundle)
	e.uint(2, r.Row)
	for i := range r.Powers {
		e.bytes(3, r.Powers[i].marshal())
	}
	return e.b
}

func (r *QueryRow) unmarshal(b []byte) error {
	return decode(b, func(f field) (err error) {
		switch f.num {
		case 1:
			r.Bundle, err = f.wantInt()
		case 2:
			r.Row, err = f.wantInt()
		case 3:
			var v []byte
			if v, err = f.wantBytes(); err != nil {
				return err
			}
			var p Power
			if err = p.unmarshal(v); err == nil {
				r.Powers = append(r.Powers, p)
			}
		}
		return
	})
}

func (m *QueryRequest) marshal() ([]byte, error) {
	var e encoder
	e.bytes(1, m.Fingerprint)
	e.bytes(2, m.RelinKey)
	for i := range m.Rows {
		e.bytes(3, m.Rows[i].marshal())
	}
	return e.b, nil
}

func (m *QueryRequest) unmarshal(b []byte) error {
	return decode(b, func(f field) (err error) {
		switch f.num {
		case 1:
			m.Fingerprint, err = f.wantBytes()
		case 2:
			m.RelinKey, err = f.wantBytes()
		case 3:
			var v []byte
			if v, err = f.wantBytes(); err != nil {
				return err
			}
			var r QueryRow
			if err = r.unmarshal(v); err == nil {
				m.Rows = append(m.Rows, r)
			}
		}
		return
	})
}

func (m *QueryResponse) marshal() ([]byte, error) {
	var e encoder
	e.uint(1, m.PartCount)
	return e.b, nil
}

func (m *QueryResponse) unmarshal(b []byte) error {
	return decode(b, func(f field) (err error) {
		if f.num == 1 {
			m.PartCount, err = f.wantInt()
		}
		return
	})
}

func (m *ResultPart) marshal() ([]byte, error) {
	var e encoder
	e.uint(1, m.Bundle)
	e.uint(2, m.Row)
	e.bytes(3, m.Membership)
	for _, l := range m.Labels {
		e.bytes(4, l)
	}
	return e.b, nil
}

func (m *ResultPart) unmarshal(b []byte) error {
	return decode(b, func(f field) (err error) {
		switch f.num {
		case 1:
			m.Bundle, err = f.wantInt()
		case 2:
			m.Row, err = f.wantInt()
		case 3:
			m.Membership, err = f.wantBytes()
		case 4:
			var v []byte
			if v, err = f.wantBytes(); err == nil {
				m.Labels = append(m.Labels, v)
			}
		}
		return
	})
}
