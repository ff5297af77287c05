package lib

import (
	"fmt"
	"log"

	rp "github.com/Clouded-Sabre/ringpool/lib"
)

var (
	emptySlice []byte
	// Pool holds the payload chunks of outgoing packets. Packets fall back to
	// plain allocation while it is nil.
	Pool *rp.RingPool
)

func SetEmptySlice(length int) {
	emptySlice = make([]byte, length)
}

// InitPayloadPool creates the global payload pool with size chunks of chunkLength bytes.
func InitPayloadPool(size, chunkLength int, debug bool) {
	rp.Debug = debug
	Pool = rp.NewRingPool("RawTCP: ", size, NewPayload, chunkLength)
	Pool.Debug = debug
}

// Payload is one pooled chunk of outgoing payload bytes
type Payload struct {
	payloadBytes []byte
	length       int
}

var _ rp.DataInterface = (*Payload)(nil)

func NewPayload(params ...interface{}) rp.DataInterface {
	if len(params) != 1 {
		log.Println("NewPayload: Invalid number of calling parameters. Should be only one: bufferlength")
		return nil
	}

	bufferLength, ok := params[0].(int)
	if !ok {
		log.Println("NewPayload: Invalid data type of bufferLength. Should be of type int")
		return nil
	}

	if len(emptySlice) < bufferLength {
		SetEmptySlice(bufferLength)
	}

	return &Payload{
		payloadBytes: make([]byte, bufferLength),
	}
}

func (p *Payload) Reset() {
	copy(p.payloadBytes, emptySlice)
	p.length = 0
}

func (p *Payload) PrintContent() {
	fmt.Println("Content:", string(p.payloadBytes[:p.length]))
}

func (p *Payload) Copy(src []byte) error {
	if len(src) > len(p.payloadBytes) {
		return fmt.Errorf("Payload Copy: Source byte slice(%d) is longer than bufferLength(%d)", len(src), len(p.payloadBytes))
	}
	if len(src) == 0 {
		return fmt.Errorf("Payload Copy: Source byte slice is empty")
	}
	copy(p.payloadBytes, src)
	p.length = len(src)
	return nil
}

func (p *Payload) GetSlice() []byte {
	return p.payloadBytes[:p.length]
}
