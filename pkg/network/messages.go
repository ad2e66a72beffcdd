package network

import (
	"fmt"

	"github.com/optable/hepsi/pkg/params"
)

// Type is the discriminant written in front of every message
type Type byte

const (
	TypeParamsRequest Type = iota + 1
	TypeParamsResponse
	TypeOPRFRequest
	TypeOPRFResponse
	TypeQueryRequest
	TypeQueryResponse
	TypeResultPart
)

func (t Type) String() string {
	switch t {
	case TypeParamsRequest:
		return "params request"
	case TypeParamsResponse:
		return "params response"
	case TypeOPRFRequest:
		return "oprf request"
	case TypeOPRFResponse:
		return "oprf response"
	case TypeQueryRequest:
		return "query request"
	case TypeQueryResponse:
		return "query response"
	case TypeResultPart:
		return "result part"
	default:
		return fmt.Sprintf("unknown(%d)", byte(t))
	}
}

// Message is anything that travels over a Channel
type Message interface {
	Type() Type
	marshal() ([]byte, error)
	unmarshal([]byte) error
}

// Request is a message sent by the receiver to the sender
type Request interface {
	Message
	isRequest()
}

// Response is a message answering a Request
type Response interface {
	Message
	isResponse()
}

// ParamsRequest asks the sender for its parameter set
type ParamsRequest struct{}

// ParamsResponse carries the sender's parameter set
type ParamsResponse struct {
	Params *params.Params
}

// OPRFRequest carries blinded group elements
type OPRFRequest struct {
	Elements [][]byte
}

// OPRFResponse carries the evaluated elements, in request order
type OPRFResponse struct {
	Elements [][]byte
}

// Power is the encryption of x^Exponent for every slot of a row
type Power struct {
	Exponent   int
	Ciphertext []byte
}

// QueryRow is one batch of probes into one bundle
type QueryRow struct {
	Bundle int
	Row    int
	Powers []Power
}

// QueryRequest carries the receiver's encrypted probes
type QueryRequest struct {
	// Fingerprint of the parameter set the query was built with
	Fingerprint []byte
	RelinKey    []byte
	Rows        []QueryRow
}

// QueryResponse announces how many result parts follow
type QueryResponse struct {
	PartCount int
}

// ResultPart is the sender's answer for one query row
type ResultPart struct {
	Bundle     int
	Row        int
	Membership []byte
	Labels     [][]byte
}

func (*ParamsRequest) Type() Type  { return TypeParamsRequest }
func (*ParamsResponse) Type() Type { return TypeParamsResponse }
func (*OPRFRequest) Type() Type    { return TypeOPRFRequest }
func (*OPRFResponse) Type() Type   { return TypeOPRFResponse }
func (*QueryRequest) Type() Type   { return TypeQueryRequest }
func (*QueryResponse) Type() Type  { return TypeQueryResponse }
func (*ResultPart) Type() Type     { return TypeResultPart }

func (*ParamsRequest) isRequest()   {}
func (*OPRFRequest) isRequest()     {}
func (*QueryRequest) isRequest()    {}
func (*ParamsResponse) isResponse() {}
func (*OPRFResponse) isResponse()   {}
func (*QueryResponse) isResponse()  {}

// newMessage returns an empty message of type t
func newMessage(t Type) (Message, error) {
	switch t {
	case TypeParamsRequest:
		return &ParamsRequest{}, nil
	case TypeParamsResponse:
		return &ParamsResponse{}, nil
	case TypeOPRFRequest:
		return &OPRFRequest{}, nil
	case TypeOPRFResponse:
		return &OPRFResponse{}, nil
	case TypeQueryRequest:
		return &QueryRequest{}, nil
	case TypeQueryResponse:
		return &QueryResponse{}, nil
	case TypeResultPart:
		return &ResultPart{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown message type %d", ErrMalformedMessage, byte(t))
	}
}

// As converts a received message to the type expected at a protocol step
func As[T Message](m Message) (T, error) {
	t, ok := m.(T)
	if !ok {
		var want T
		if m == nil {
			return want, fmt.Errorf("%w: no message", ErrMalformedMessage)
		}
		return want, fmt.Errorf("%w: unexpected %s", ErrMalformedMessage, m.Type())
	}
	return t, nil
}
