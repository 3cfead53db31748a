package tlv

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf8"
)

const HeaderLen = 7

var (
	ErrShortFieldHeader = errors.New("tlv: short field header")
	ErrShortFieldValue  = errors.New("tlv: short field value")
	ErrSegmentOrder     = errors.New("tlv: segment ids not contiguous")
	ErrSegmentType      = errors.New("tlv: segment is not a string field")
	ErrSegmentEncoding  = errors.New("tlv: segment is not valid utf-8")
)

// Type IDs. Segments are always TypeString; TypeBytes is reserved.
const (
	TypeString uint8 = 6
	TypeBytes  uint8 = 7
)

// Field is one decoded TLV field.
type Field struct {
	ID    uint16
	Type  uint8
	Value []byte
}

func EncodeField(f Field) []byte {
	buf := make([]byte, HeaderLen+len(f.Value))
	binary.BigEndian.PutUint16(buf[0:2], f.ID)
	buf[2] = f.Type
	binary.BigEndian.PutUint32(buf[3:7], uint32(len(f.Value)))
	copy(buf[7:], f.Value)
	return buf
}

func DecodeFields(payload []byte) ([]Field, error) {
	fields := make([]Field, 0)
	i := 0
	for i < len(payload) {
		if len(payload)-i < HeaderLen {
			return nil, ErrShortFieldHeader
		}
		id := binary.BigEndian.Uint16(payload[i : i+2])
		typeID := payload[i+2]
		l := binary.BigEndian.Uint32(payload[i+3 : i+7])
		i += HeaderLen
		if uint32(len(payload)-i) < l {
			return nil, ErrShortFieldValue
		}
		val := make([]byte, l)
		copy(val, payload[i:i+int(l)])
		i += int(l)
		fields = append(fields, Field{ID: id, Type: typeID, Value: val})
	}
	return fields, nil
}

func EncodeFields(fields []Field) []byte {
	size := 0
	for _, f := range fields {
		size += HeaderLen + len(f.Value)
	}
	out := make([]byte, 0, size)
	for _, f := range fields {
		out = append(out, EncodeField(f)...)
	}
	return out
}

// SegmentFields maps ordered text segments onto string fields whose id is
// the segment index.
func SegmentFields(segments []string) []Field {
	fields := make([]Field, len(segments))
	for i, s := range segments {
		fields[i] = Field{ID: uint16(i), Type: TypeString, Value: []byte(s)}
	}
	return fields
}

// EncodeSegments is EncodeFields(SegmentFields(segments)).
func EncodeSegments(segments []string) []byte {
	return EncodeFields(SegmentFields(segments))
}

// Segments converts decoded fields back into ordered text segments. Field
// ids must run 0..n-1 in order and every field must be valid UTF-8 text.
func Segments(fields []Field) ([]string, error) {
	out := make([]string, len(fields))
	for i, f := range fields {
		if int(f.ID) != i {
			return nil, fmt.Errorf("%w: position %d has id %d", ErrSegmentOrder, i, f.ID)
		}
		if f.Type != TypeString {
			return nil, fmt.Errorf("%w: segment %d type %d", ErrSegmentType, i, f.Type)
		}
		if !utf8.Valid(f.Value) {
			return nil, fmt.Errorf("%w: segment %d", ErrSegmentEncoding, i)
		}
		out[i] = string(f.Value)
	}
	return out, nil
}

// DecodeSegments is Segments(DecodeFields(payload)).
func DecodeSegments(payload []byte) ([]string, error) {
	fields, err := DecodeFields(payload)
	if err != nil {
		return nil, err
	}
	return Segments(fields)
}

func GetField(fields []Field, id uint16) (Field, bool) {
	for _, f := range fields {
		if f.ID == id {
			return f, true
		}
	}
	return Field{}, false
}
