package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrReplyShape = errors.New("catalog: reply does not fit result shape")

type ShapeKind int

const (
	ShapeDiscard ShapeKind = iota
	ShapeWrapSegment
	ShapeSplitSegment
	ShapeDecodeJSON
)

func (k ShapeKind) String() string {
	switch k {
	case ShapeDiscard:
		return "discard"
	case ShapeWrapSegment:
		return "wrap"
	case ShapeSplitSegment:
		return "split"
	case ShapeDecodeJSON:
		return "json"
	default:
		return fmt.Sprintf("shape(%d)", int(k))
	}
}

// ResultShape says how the first payload segment of a reply becomes a Result.
type ResultShape struct {
	Kind  ShapeKind
	Field string
}

func Discard() ResultShape {
	return ResultShape{Kind: ShapeDiscard}
}

func WrapSegment(field string) ResultShape {
	return ResultShape{Kind: ShapeWrapSegment, Field: field}
}

func SplitSegment(field string) ResultShape {
	return ResultShape{Kind: ShapeSplitSegment, Field: field}
}

func DecodeJSON() ResultShape {
	return ResultShape{Kind: ShapeDecodeJSON}
}

// Result is the keyed result of one catalog invocation. Discarded replies
// produce a nil Result.
type Result map[string]any

// Fields lists the keys the shape produces; nil for Discard and DecodeJSON.
func (s ResultShape) Fields() []string {
	switch s.Kind {
	case ShapeWrapSegment, ShapeSplitSegment:
		return []string{s.Field}
	default:
		return nil
	}
}

func (s ResultShape) Apply(payload []string) (Result, error) {
	if s.Kind == ShapeDiscard {
		return nil, nil
	}
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: %s needs one payload segment", ErrReplyShape, s.Kind)
	}
	switch s.Kind {
	case ShapeWrapSegment:
		return Result{s.Field: payload[0]}, nil
	case ShapeSplitSegment:
		parts := strings.Fields(payload[0])
		if parts == nil {
			parts = []string{}
		}
		return Result{s.Field: parts}, nil
	case ShapeDecodeJSON:
		var out map[string]any
		if err := json.Unmarshal([]byte(payload[0]), &out); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrReplyShape, err)
		}
		return Result(out), nil
	default:
		return nil, fmt.Errorf("%w: unknown shape %s", ErrReplyShape, s.Kind)
	}
}
