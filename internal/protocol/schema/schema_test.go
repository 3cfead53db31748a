package schema

import (
	"testing"

	"github.com/danmuck/designctl/internal/protocol/tlv"
	"github.com/danmuck/designctl/internal/testutil/testlog"
)

func TestValidateRequestSegments(t *testing.T) {
	testlog.Start(t)
	fields := tlv.SegmentFields([]string{"SEND_POSE", "pose0"})
	if err := Validate(MsgRequest, fields); err != nil {
		t.Fatalf("validate request: %v", err)
	}
}

func TestValidateReplyAllowsStatusOnly(t *testing.T) {
	testlog.Start(t)
	fields := tlv.SegmentFields([]string{StatusKeyUnrecognized})
	if err := Validate(MsgReply, fields); err != nil {
		t.Fatalf("validate reply: %v", err)
	}
}

func TestValidateMissingHeadDeterministic(t *testing.T) {
	testlog.Start(t)
	err := Validate(MsgRequest, nil)
	ve, ok := err.(ValidationError)
	if !ok {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if ve.FieldID != SegmentHead || ve.Reason != "missing required field" {
		t.Fatalf("unexpected validation error: %+v", ve)
	}
}

func TestValidateEmptyKeyRejected(t *testing.T) {
	testlog.Start(t)
	err := Validate(MsgRequest, tlv.SegmentFields([]string{"  "}))
	ve, ok := err.(ValidationError)
	if !ok || ve.Reason != "empty command key" {
		t.Fatalf("expected empty key error, got %v", err)
	}
}

func TestValidateTypeMismatchDeterministic(t *testing.T) {
	testlog.Start(t)
	fields := []tlv.Field{{ID: SegmentHead, Type: tlv.TypeBytes, Value: []byte{0x01}}}
	err := Validate(MsgReply, fields)
	ve, ok := err.(ValidationError)
	if !ok || ve.Reason != "type mismatch" {
		t.Fatalf("expected type mismatch, got %v", err)
	}
}

func TestValidateUnknownMessageType(t *testing.T) {
	testlog.Start(t)
	err := Validate(99, tlv.SegmentFields([]string{"ECHO"}))
	ve, ok := err.(ValidationError)
	if !ok || ve.Reason != "unknown message_type" {
		t.Fatalf("expected unknown message_type, got %v", err)
	}
}

func TestStatusTags(t *testing.T) {
	testlog.Start(t)
	if OKStatus("ECHO") != "REPLY_OK:ECHO" {
		t.Fatalf("unexpected ok tag %q", OKStatus("ECHO"))
	}
	if MalformedStatus("ECHO") != "MALFORMED:ECHO" {
		t.Fatalf("unexpected malformed tag %q", MalformedStatus("ECHO"))
	}
}
