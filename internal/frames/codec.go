package frames

import (
	"github.com/fxamacker/cbor/v2"
)

// Message is the websocket envelope for one published frame.
type Message struct {
	Seq   int   `cbor:"seq"`
	Frame Frame `cbor:"frame"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("frames: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("frames: CBOR decoder initialization failed: " + err.Error())
	}
}

func Encode(seq int, f Frame) ([]byte, error) {
	return encMode.Marshal(Message{Seq: seq, Frame: f})
}

func Decode(data []byte) (Message, error) {
	var m Message
	err := decMode.Unmarshal(data, &m)
	return m, err
}
