package grpcstream

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Wire layout of the two frame types carried on the stream. Both are plain
// protowire messages so either side can be implemented without generated
// code.
//
//	append: 1=seq(varint) 2=payload(bytes)
//	ack:    1=seq(varint) 2=status(varint, 0=ok) 3=message(bytes)
const (
	fieldSeq     = 1
	fieldPayload = 2
	fieldStatus  = 2
	fieldMessage = 3
)

// EncodeAppend frames one record for the wire.
func EncodeAppend(seq uint64, payload []byte) []byte {
	b := make([]byte, 0, len(payload)+16)
	b = protowire.AppendTag(b, fieldSeq, protowire.VarintType)
	b = protowire.AppendVarint(b, seq)
	b = protowire.AppendTag(b, fieldPayload, protowire.BytesType)
	b = protowire.AppendBytes(b, payload)
	return b
}

// DecodeAppend parses an append frame. Used by in-process test servers.
func DecodeAppend(b []byte) (seq uint64, payload []byte, err error) {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return 0, nil, fmt.Errorf("grpcstream: bad append tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch {
		case num == fieldSeq && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, nil, fmt.Errorf("grpcstream: bad append seq: %w", protowire.ParseError(n))
			}
			seq, b = v, b[n:]
		case num == fieldPayload && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return 0, nil, fmt.Errorf("grpcstream: bad append payload: %w", protowire.ParseError(n))
			}
			payload, b = v, b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return 0, nil, fmt.Errorf("grpcstream: bad append field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return seq, payload, nil
}

// Ack is one acknowledgment frame decoded off the wire.
type Ack struct {
	Seq     uint64
	Status  uint64
	Message string
}

// OK reports whether the remote accepted the record.
func (a Ack) OK() bool { return a.Status == 0 }

// EncodeAck frames one acknowledgment. Used by in-process test servers.
func EncodeAck(a Ack) []byte {
	b := make([]byte, 0, len(a.Message)+16)
	b = protowire.AppendTag(b, fieldSeq, protowire.VarintType)
	b = protowire.AppendVarint(b, a.Seq)
	if a.Status != 0 {
		b = protowire.AppendTag(b, fieldStatus, protowire.VarintType)
		b = protowire.AppendVarint(b, a.Status)
	}
	if a.Message != "" {
		b = protowire.AppendTag(b, fieldMessage, protowire.BytesType)
		b = protowire.AppendString(b, a.Message)
	}
	return b
}

// DecodeAck parses an acknowledgment frame.
func DecodeAck(b []byte) (Ack, error) {
	var a Ack
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return a, fmt.Errorf("grpcstream: bad ack tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch {
		case num == fieldSeq && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return a, fmt.Errorf("grpcstream: bad ack seq: %w", protowire.ParseError(n))
			}
			a.Seq, b = v, b[n:]
		case num == fieldStatus && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return a, fmt.Errorf("grpcstream: bad ack status: %w", protowire.ParseError(n))
			}
			a.Status, b = v, b[n:]
		case num == fieldMessage && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return a, fmt.Errorf("grpcstream: bad ack message: %w", protowire.ParseError(n))
			}
			a.Message, b = string(v), b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return a, fmt.Errorf("grpcstream: bad ack field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return a, nil
}
