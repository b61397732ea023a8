package lib

import (
	"bytes"
	"io"
	"log"

	"github.com/google/netstack/tcpip/seqnum"

	"github.com/sablewire/rdt/config"
)

// ConnectionConfig carries the per-connection tunables.
type ConnectionConfig struct {
	SendWindow    int // maximum unacknowledged bytes outstanding
	RecvWindow    int // maximum buffered received bytes
	RtTimeout     int // retransmission timeout in ms
	TimerInterval int // tick period in ms
}

func NewConnectionConfig(cfg *config.Config) *ConnectionConfig {
	return &ConnectionConfig{
		SendWindow:    cfg.SendWindow,
		RecvWindow:    cfg.RecvWindow,
		RtTimeout:     cfg.RtTimeout,
		TimerInterval: cfg.TimerInterval,
	}
}

// Connection is the per-connection protocol engine. Its four entry points -
// OnInputReady, OnDatagram, OnOutputSpace, and the tick step - are invoked
// serially by the host; state is mutated only inside an entry point, so the
// engine takes no locks.
type Connection struct {
	core    *Core
	key     string
	adapter DatagramAdapter

	seqNo     seqnum.Value // highest acknowledged sequence number + 1 (left edge of the send window)
	nextSeqNo seqnum.Value // seqno assigned to the next byte that will be sent
	ackNo     seqnum.Value // next in-order byte expected from the peer
	lastAckNo seqnum.Value // previous ackno, kept to detect and re-ACK duplicates

	sendWindow     int
	sendWindowUsed int
	rcvWindow      int
	rcvWindowUsed  int

	txq txQueue
	rxq rxQueue

	timer       retransmitTimer
	teardown    int
	forcedClose bool // a spent retry budget already forced the FIN
	inputClosed bool
	closed      bool
}

func newConnection(core *Core, key string, adapter DatagramAdapter, cfg *ConnectionConfig) *Connection {
	return &Connection{
		core:       core,
		key:        key,
		adapter:    adapter,
		seqNo:      1,
		nextSeqNo:  1,
		ackNo:      1,
		lastAckNo:  1,
		sendWindow: cfg.SendWindow,
		rcvWindow:  cfg.RecvWindow,
		timer:      newRetransmitTimer(cfg.RtTimeout, cfg.TimerInterval),
		teardown:   NoClose,
	}
}

func (c *Connection) Key() string { return c.key }

// Destroy tears the connection down: the adapter is notified, the queues
// return their chunks, and the connection leaves the core's registry.
func (c *Connection) Destroy() {
	if c.closed {
		return
	}
	c.closed = true
	c.adapter.Remove()
	c.core.remove(c.key)
	c.txq.release()
	c.rxq.release()
	connectionsDestroyed.Inc()
	c.adapter.EndClient()
}

// OnInputReady pulls payload chunks off the input stream until it would
// block, hits end of stream, or emits the truncation sentinel, then runs a
// transmit pass over the send window.
func (c *Connection) OnInputReady() {
	if c.closed {
		return
	}
	buf := make([]byte, MaxSegDataSize)
	for !c.inputClosed {
		n, err := c.adapter.Input(buf)
		if err == io.EOF {
			// End of input: announce our side is done sending.
			c.inputClosed = true
			c.teardown = ActiveClose
			c.sendFlags(c.ackNo, FINFlag)
			c.timer.arm()
			break
		}
		if err != nil {
			log.Printf("connection %s: input error: %v", c.key, err)
			break
		}
		if n == 0 {
			break
		}
		if n > len(truncateSentinel) && bytes.Equal(buf[:len(truncateSentinel)], []byte(truncateSentinel)) {
			break
		}
		e, err := newTxEntry(buf[:n])
		if err != nil {
			log.Printf("connection %s: aborting, %v", c.key, err)
			c.Destroy()
			return
		}
		c.txq.push(e)
	}
	c.sendPossible()
}

// sendPossible is the Go-Back-N transmit pass: reset next_seqno to the left
// edge and walk the send buffer from the front, sending every entry the send
// window admits. The pass stops at the first entry that would exceed the
// window.
func (c *Connection) sendPossible() {
	c.sendWindowUsed = 0
	c.nextSeqNo = c.seqNo
	for _, e := range c.txq.entries {
		if e.length+c.sendWindowUsed > c.sendWindow {
			break
		}
		c.sendDataSegment(e)
		c.sendWindowUsed += e.length
	}
}

func (c *Connection) sendDataSegment(e *txEntry) {
	payload := e.payload()
	seg := Segment{
		SeqNo:   uint32(c.nextSeqNo),
		AckNo:   uint32(c.ackNo),
		Flags:   0,
		Window:  c.advertisedWindow(),
		Payload: payload,
	}
	c.nextSeqNo = c.nextSeqNo.Add(seqnum.Size(e.length))
	e.endSeqNo = c.nextSeqNo
	e.sent = true

	frame := make([]byte, HeaderLength+len(payload))
	n, err := seg.Marshal(frame)
	if err != nil {
		log.Printf("connection %s: marshal error: %v", c.key, err)
		return
	}
	c.sendFrame(frame[:n])
	c.timer.arm()
	segmentsSent.Inc()
}

// sendFlags emits a pure control segment (ACK, FIN) carrying the current
// seqno and the given ackno.
func (c *Connection) sendFlags(ackNo seqnum.Value, flags uint32) {
	seg := Segment{
		SeqNo:  uint32(c.seqNo),
		AckNo:  uint32(ackNo),
		Flags:  flags,
		Window: c.advertisedWindow(),
	}
	frame := make([]byte, HeaderLength)
	n, err := seg.Marshal(frame)
	if err != nil {
		log.Printf("connection %s: marshal error: %v", c.key, err)
		return
	}
	c.sendFrame(frame[:n])
	controlSegmentsSent.Inc()
}

// sendFrame loops until the datagram layer accepts every byte of the frame.
func (c *Connection) sendFrame(frame []byte) {
	sent := 0
	for sent < len(frame) {
		n, err := c.adapter.SendDatagram(frame[sent:])
		if err != nil {
			log.Printf("connection %s: send error: %v", c.key, err)
			return
		}
		if n <= 0 {
			return
		}
		sent += n
	}
}

// advertisedWindow floors the free receive space to whole-segment
// granularity so the peer never sends a partial trailing segment.
func (c *Connection) advertisedWindow() uint16 {
	return uint16(MaxSegDataSize * ((c.rcvWindow - c.rcvWindowUsed) / MaxSegDataSize))
}

// OnDatagram validates one received frame and dispatches it by type.
// Malformed frames are dropped without a trace; a duplicate of the previous
// in-order segment re-triggers the ACK it evidently lost.
func (c *Connection) OnDatagram(data []byte) {
	if c.closed {
		return
	}
	seg := &Segment{}
	if err := seg.Unmarshal(data); err != nil {
		malformedDrops.Inc()
		return
	}
	defer seg.ReturnChunk()
	segmentsReceived.Inc()

	segSeq := seqnum.Value(seg.SeqNo)
	if segSeq != c.ackNo && segSeq == c.lastAckNo && seg.Flags&ACKFlag == 0 {
		// The peer replayed the previous in-order segment, so our ACK for it
		// was lost. Re-ACK and drop.
		c.sendFlags(c.lastAckNo, ACKFlag)
		duplicateReacks.Inc()
		return
	}

	switch classify(seg.Flags) {
	case DataSeg:
		c.handleData(seg)
	case AckSeg:
		c.handleAck(seg)
	case FinWithAck:
		c.handleFinWithAck(seg)
	case FinNoAck:
		c.handleFin(seg)
	}
}

func classify(flags uint32) int {
	switch {
	case flags&FINFlag != 0 && flags&ACKFlag != 0:
		return FinWithAck
	case flags&FINFlag != 0:
		return FinNoAck
	case flags&ACKFlag != 0:
		return AckSeg
	default:
		return DataSeg
	}
}

// handleData accepts the next in-order data segment if the receive window
// has room, then drains toward the output stream. Out-of-order and
// window-exceeding segments are dropped; the peer retransmits.
func (c *Connection) handleData(seg *Segment) {
	payloadLen := int(seg.Len) - HeaderLength
	if payloadLen <= 0 {
		return
	}
	if seqnum.Value(seg.SeqNo) != c.ackNo {
		outOfOrderDrops.Inc()
		return
	}
	if c.rcvWindowUsed+payloadLen > c.rcvWindow {
		windowDrops.Inc()
		return
	}

	c.lastAckNo = c.ackNo
	c.ackNo = seqnum.Value(seg.SeqNo).Add(seqnum.Size(payloadLen))
	c.rxq.push(&rxEntry{
		chunk:     seg.TakeChunk(),
		remaining: payloadLen,
	})
	c.rcvWindowUsed += payloadLen

	c.drainOutput()
}

// handleAck walks the cumulative acknowledgement over the send buffer:
// every entry whose end the ackno covers leaves the queue and releases its
// share of the send window.
func (c *Connection) handleAck(seg *Segment) {
	a := seqnum.Value(seg.AckNo)

	for {
		e := c.txq.front()
		if e == nil || !e.sent || a.LessThan(e.endSeqNo) {
			break
		}
		c.seqNo = e.endSeqNo
		c.sendWindowUsed -= e.length
		c.txq.popFront()
	}

	if a == c.nextSeqNo && c.teardown == NoClose {
		// Fully caught up and no FIN in flight.
		c.timer.disarm()
	}
	c.timer.ackProgress()

	if c.teardown == PassiveClose && a == c.seqNo.Add(1) {
		// The final ACK of the four-way exchange, covering our FIN; stray
		// data ACKs already did their cumulative work above.
		c.Destroy()
	}
}

// handleFinWithAck finishes an active close: the peer folded its FIN and the
// ACK of ours into one segment.
func (c *Connection) handleFinWithAck(seg *Segment) {
	c.ackNo = seqnum.Value(seg.SeqNo).Add(1)
	c.sendFlags(c.ackNo, ACKFlag)
	c.Destroy()
}

// handleFin handles a bare FIN on either teardown path. A first FIN puts us
// into passive close: EOF to the output stream, ACK, flush, FIN back. In
// active close it is the peer's answer to our FIN, so ACK and destroy.
func (c *Connection) handleFin(seg *Segment) {
	c.lastAckNo = c.ackNo
	c.ackNo = seqnum.Value(seg.SeqNo).Add(1)

	if c.teardown == ActiveClose {
		c.sendFlags(c.ackNo, ACKFlag)
		c.Destroy()
		return
	}

	if _, err := c.adapter.Output(nil); err != nil {
		log.Printf("connection %s: output EOF error: %v", c.key, err)
	}
	c.sendFlags(c.ackNo, ACKFlag)
	c.drainOutput()
	c.sendFlags(c.ackNo, FINFlag)
	c.timer.arm()
	c.teardown = PassiveClose
}

// OnOutputSpace retries the output drain after the stream freed some space.
func (c *Connection) OnOutputSpace() {
	if c.closed {
		return
	}
	c.drainOutput()
}

// drainOutput walks the receive buffer front to back, flushing whole entries
// into the output stream. An entry is only started when the stream reports
// room for all of its remaining bytes; otherwise the walk stops and resumes
// on a later output-space event, or a tick while the timer is disarmed. If a
// write still comes up short, the entry keeps its unwritten tail and the
// walk stops. Each fully flushed entry is acknowledged.
func (c *Connection) drainOutput() {
	for !c.rxq.empty() {
		e := c.rxq.front()
		space := c.adapter.Bufspace()
		if space == 0 || e.remaining > space {
			break
		}
		n, err := c.adapter.Output(e.pending())
		if err != nil {
			log.Printf("connection %s: output error: %v", c.key, err)
			break
		}
		e.delivered += n
		e.remaining -= n
		c.rcvWindowUsed -= n
		if e.remaining > 0 {
			break
		}
		c.sendFlags(c.ackNo, ACKFlag)
		c.rxq.popFront()
	}
}
