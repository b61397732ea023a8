package lib

import (
	"encoding/binary"
	"fmt"
	"log"

	rp "github.com/Clouded-Sabre/ringpool/lib"
)

// Segment is the wire unit of the protocol: an 18-byte header followed by
// zero or more payload bytes.
type Segment struct {
	SeqNo    uint32 // byte offset of the first payload byte; current seqno for control segments
	AckNo    uint32 // next byte expected from the peer
	Len      uint16 // total segment length, header included
	Flags    uint32 // FINFlag, ACKFlag
	Window   uint16 // receive space advertised, floored to whole segments
	Checksum uint16 // 1's-complement checksum over the whole segment
	Payload  []byte
	chunk    *rp.Element // memory chunk backing Payload
}

// Marshal serialises the segment into buffer and returns the frame length.
// The checksum is computed over the full frame with the checksum field zero.
func (s *Segment) Marshal(buffer []byte) (int, error) {
	var fp int
	if rp.Debug && s.chunk != nil {
		fp = s.chunk.AddFootPrint("Segment.Marshal")
	}

	frameLength := HeaderLength + len(s.Payload)
	if frameLength > len(buffer) {
		return 0, fmt.Errorf("buffer size (%d) is too small to hold the frame (%d)", len(buffer), frameLength)
	}
	s.Len = uint16(frameLength)

	binary.BigEndian.PutUint32(buffer[0:4], s.SeqNo)
	binary.BigEndian.PutUint32(buffer[4:8], s.AckNo)
	binary.BigEndian.PutUint16(buffer[8:10], s.Len)
	binary.BigEndian.PutUint32(buffer[10:14], s.Flags)
	binary.BigEndian.PutUint16(buffer[14:16], s.Window)
	// leave buffer[16:18] (checksum) all zero for the checksum pass
	binary.BigEndian.PutUint16(buffer[16:18], 0)

	if len(s.Payload) > 0 {
		copy(buffer[HeaderLength:frameLength], s.Payload)
	}

	s.Checksum = CalculateChecksum(buffer[:frameLength])
	binary.BigEndian.PutUint16(buffer[16:18], s.Checksum)

	if rp.Debug && s.chunk != nil {
		s.chunk.TickFootPrint(fp)
	}
	return frameLength, nil
}

// Unmarshal parses and validates a received frame. A non-nil error means the
// frame is malformed (truncated, padded, or corrupted) or that no pool chunk
// was free to hold its payload; the datagram layer has no error channel for
// bad frames.
func (s *Segment) Unmarshal(data []byte) error {
	if len(data) < HeaderLength {
		return fmt.Errorf("frame length (%d) is shorter than the header", len(data))
	}
	s.SeqNo = binary.BigEndian.Uint32(data[0:4])
	s.AckNo = binary.BigEndian.Uint32(data[4:8])
	s.Len = binary.BigEndian.Uint16(data[8:10])
	s.Flags = binary.BigEndian.Uint32(data[10:14])
	s.Window = binary.BigEndian.Uint16(data[14:16])
	s.Checksum = binary.BigEndian.Uint16(data[16:18])

	if int(s.Len) != len(data) {
		return fmt.Errorf("frame length (%d) does not match the length field (%d)", len(data), s.Len)
	}
	if !VerifyChecksum(data) {
		return fmt.Errorf("checksum mismatch")
	}

	if len(data) > HeaderLength {
		if err := s.CopyToPayload(data[HeaderLength:]); err != nil {
			return fmt.Errorf("segment unmarshal: error copying payload - %s", err)
		}
	} else {
		s.Payload = nil
	}
	return nil
}

// CopyToPayload copies src into a fresh pool chunk owned by the segment.
func (s *Segment) CopyToPayload(src []byte) error {
	if len(src) == 0 {
		return fmt.Errorf("segment payload copy: source slice is empty")
	}
	s.chunk = Pool.GetElement()
	if s.chunk == nil {
		return fmt.Errorf("segment payload copy: got a nil chunk")
	}
	if err := s.chunk.Data.(*Payload).Copy(src); err != nil {
		s.ReturnChunk()
		return err
	}
	s.Payload = s.chunk.Data.(*Payload).GetSlice()
	return nil
}

// TakeChunk transfers chunk ownership to the caller, typically when the
// payload moves into a receive-queue entry.
func (s *Segment) TakeChunk() *rp.Element {
	chunk := s.chunk
	s.chunk = nil
	s.Payload = nil
	return chunk
}

func (s *Segment) ReturnChunk() {
	if s.chunk != nil {
		Pool.ReturnElement(s.chunk)
		s.chunk = nil
		s.Payload = nil
	}
}

// CalculateChecksum computes the 1's-complement checksum over buffer.
func CalculateChecksum(buffer []byte) uint16 {
	var cksum uint32

	for i := 0; i < len(buffer)-1; i += 2 {
		word := binary.BigEndian.Uint16(buffer[i : i+2])
		cksum += uint32(word)
	}

	// Handle a remaining odd byte, if any
	if len(buffer)%2 != 0 {
		cksum += uint32(buffer[len(buffer)-1]) << 8
	}

	// Fold the 32-bit sum to 16 bits
	cksum = (cksum >> 16) + (cksum & 0xffff)
	cksum += cksum >> 16

	return ^uint16(cksum)
}

// VerifyChecksum recomputes the frame checksum with the checksum field
// treated as zero and compares it with the stored one. The frame is restored
// before returning.
func VerifyChecksum(data []byte) bool {
	if len(data) < HeaderLength {
		log.Printf("The received frame's total length is too short (%d)\n", len(data))
		return false
	}
	receivedChecksum := binary.BigEndian.Uint16(data[16:18])

	binary.BigEndian.PutUint16(data[16:18], 0)
	calculatedChecksum := CalculateChecksum(data)
	binary.BigEndian.PutUint16(data[16:18], receivedChecksum)

	return receivedChecksum == calculatedChecksum
}
