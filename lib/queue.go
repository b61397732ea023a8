package lib

import (
	"github.com/google/netstack/tcpip/seqnum"

	rp "github.com/Clouded-Sabre/ringpool/lib"
)

// txEntry is one unacknowledged outbound payload. endSeqNo is the sequence
// number one past the entry's last byte, stamped on first transmission; an
// entry with sent == false has never been on the wire.
type txEntry struct {
	chunk    *rp.Element
	length   int
	endSeqNo seqnum.Value
	sent     bool
}

func newTxEntry(src []byte) (*txEntry, error) {
	chunk := Pool.GetElement()
	if chunk == nil {
		return nil, errPoolExhausted
	}
	if err := chunk.Data.(*Payload).Copy(src); err != nil {
		Pool.ReturnElement(chunk)
		return nil, err
	}
	return &txEntry{
		chunk:  chunk,
		length: len(src),
	}, nil
}

func (e *txEntry) payload() []byte {
	return e.chunk.Data.(*Payload).GetSlice()
}

// txQueue is the send buffer: entries ordered by endSeqNo, strictly
// increasing once stamped.
type txQueue struct {
	entries []*txEntry
}

func (q *txQueue) push(e *txEntry) {
	q.entries = append(q.entries, e)
}

func (q *txQueue) front() *txEntry {
	if len(q.entries) == 0 {
		return nil
	}
	return q.entries[0]
}

// popFront removes the head entry and returns its chunk to the pool.
func (q *txQueue) popFront() {
	if len(q.entries) == 0 {
		return
	}
	e := q.entries[0]
	q.entries = q.entries[1:]
	Pool.ReturnElement(e.chunk)
	e.chunk = nil
}

func (q *txQueue) empty() bool { return len(q.entries) == 0 }

func (q *txQueue) length() int { return len(q.entries) }

// bytesQueued is the sum of all entry lengths, sent or not; it equals
// send_window_used once every entry has been sent.
func (q *txQueue) bytesQueued() int {
	total := 0
	for _, e := range q.entries {
		total += e.length
	}
	return total
}

func (q *txQueue) release() {
	for _, e := range q.entries {
		if e.chunk != nil {
			Pool.ReturnElement(e.chunk)
			e.chunk = nil
		}
	}
	q.entries = nil
}

// rxEntry is one accepted in-order payload awaiting drain to the output
// stream. delivered + remaining always equals the entry's payload length.
type rxEntry struct {
	chunk     *rp.Element
	delivered int
	remaining int
}

func (e *rxEntry) pending() []byte {
	return e.chunk.Data.(*Payload).GetSlice()[e.delivered : e.delivered+e.remaining]
}

// rxQueue is the receive buffer, ordered by arrival (which is sequence order
// under strict in-order reception).
type rxQueue struct {
	entries []*rxEntry
}

func (q *rxQueue) push(e *rxEntry) {
	q.entries = append(q.entries, e)
}

func (q *rxQueue) front() *rxEntry {
	if len(q.entries) == 0 {
		return nil
	}
	return q.entries[0]
}

func (q *rxQueue) popFront() {
	if len(q.entries) == 0 {
		return
	}
	e := q.entries[0]
	q.entries = q.entries[1:]
	Pool.ReturnElement(e.chunk)
	e.chunk = nil
}

func (q *rxQueue) empty() bool { return len(q.entries) == 0 }

func (q *rxQueue) length() int { return len(q.entries) }

// bytesBuffered is the sum of remaining bytes, the value rcv_window_used
// must equal.
func (q *rxQueue) bytesBuffered() int {
	total := 0
	for _, e := range q.entries {
		total += e.remaining
	}
	return total
}

func (q *rxQueue) release() {
	for _, e := range q.entries {
		if e.chunk != nil {
			Pool.ReturnElement(e.chunk)
			e.chunk = nil
		}
	}
	q.entries = nil
}
