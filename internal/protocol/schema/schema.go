package schema

import (
	"fmt"
	"strings"

	"github.com/danmuck/designctl/internal/protocol/tlv"
	"github.com/rs/zerolog/log"
)

// Message type IDs.
const (
	MsgRequest uint32 = 1
	MsgReply   uint32 = 2
)

// Segment positions shared by both message types.
const (
	SegmentHead uint16 = 0
)

// Status tags carried in SegmentHead of a reply.
const (
	StatusOKPrefix        = "REPLY_OK:"
	StatusKeyUnrecognized = "KEY_UNRECOGNIZED"
	StatusMalformedPrefix = "MALFORMED:"
)

// OKStatus is the success tag the engine returns for key.
func OKStatus(key string) string {
	return StatusOKPrefix + key
}

// MalformedStatus is the argument-error tag the engine returns for key.
func MalformedStatus(key string) string {
	return StatusMalformedPrefix + key
}

type ValidationError struct {
	MessageType uint32
	FieldID     uint16
	Reason      string
}

func (e ValidationError) Error() string {
	if e.FieldID == 0 {
		return fmt.Sprintf("schema: message_type=%d: %s", e.MessageType, e.Reason)
	}
	return fmt.Sprintf("schema: message_type=%d field=%d: %s", e.MessageType, e.FieldID, e.Reason)
}

// Validate enforces the segment layout for a message type: at least one
// string segment at id 0, and for requests a non-blank key.
func Validate(messageType uint32, fields []tlv.Field) error {
	switch messageType {
	case MsgRequest, MsgReply:
	default:
		log.Error().Uint32("message_type", messageType).Msg("schema.Validate unknown message type")
		return ValidationError{MessageType: messageType, Reason: "unknown message_type"}
	}
	head, found := tlv.GetField(fields, SegmentHead)
	if !found {
		log.Error().Uint32("message_type", messageType).Msg("schema.Validate missing head segment")
		return ValidationError{MessageType: messageType, FieldID: SegmentHead, Reason: "missing required field"}
	}
	if head.Type != tlv.TypeString {
		log.Error().
			Uint32("message_type", messageType).
			Uint8("got", head.Type).
			Msg("schema.Validate head segment type mismatch")
		return ValidationError{MessageType: messageType, FieldID: SegmentHead, Reason: "type mismatch"}
	}
	if messageType == MsgRequest && strings.TrimSpace(string(head.Value)) == "" {
		return ValidationError{MessageType: messageType, FieldID: SegmentHead, Reason: "empty command key"}
	}
	log.Debug().Uint32("message_type", messageType).Int("segments", len(fields)).Msg("schema.Validate ok")
	return nil
}
