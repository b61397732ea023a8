package lib

import (
	"fmt"

	rp "github.com/Clouded-Sabre/ringpool/lib"
)

var (
	emptySlice []byte
	// Pool holds the payload chunks shared by all connections. Created by NewCore.
	Pool *rp.RingPool
)

// Payload is a pooled byte buffer backing segment payloads and queue entries.
type Payload struct {
	payloadBytes []byte
	length       int
}

// NewPayload creates a pool chunk. The single parameter is the buffer length.
func NewPayload(params ...interface{}) rp.DataInterface {
	bufferLength := MaxSegDataSize
	if len(params) == 1 {
		if n, ok := params[0].(int); ok && n > 0 {
			bufferLength = n
		}
	}

	if len(emptySlice) < bufferLength {
		emptySlice = make([]byte, bufferLength)
	}

	return &Payload{
		payloadBytes: make([]byte, bufferLength),
	}
}

func (p *Payload) SetContent(s string) {
	p.payloadBytes = []byte(s)
	p.length = len(s)
}

// Reset clears the chunk so a stale payload never leaks into the next user.
func (p *Payload) Reset() {
	copy(p.payloadBytes, emptySlice)
	p.length = 0
}

func (p *Payload) PrintContent() {
	fmt.Println("Content:", string(p.payloadBytes[:p.length]))
}

func (p *Payload) Copy(src []byte) error {
	if len(src) > len(p.payloadBytes) {
		return fmt.Errorf("payload copy: source slice (%d) is longer than buffer length (%d)", len(src), len(p.payloadBytes))
	}
	if len(src) == 0 {
		return fmt.Errorf("payload copy: source slice is empty")
	}
	copy(p.payloadBytes, src)
	p.length = len(src)
	return nil
}

func (p *Payload) GetSlice() []byte {
	return p.payloadBytes[:p.length]
}
