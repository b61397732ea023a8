package lib

// Flag constants (TCP-style bit positions, carried in a 32-bit field)
const (
	FINFlag uint32 = 1 << 0
	ACKFlag uint32 = 1 << 4
)

// Wire geometry. The header is packed, all multi-byte fields big-endian:
// seqno u32, ackno u32, len u16, flags u32, window u16, cksum u16.
const (
	HeaderLength   = 18
	MaxSegDataSize = 1440 // payload bytes per segment, fixed by the datagram adapter
	MaxSegmentSize = HeaderLength + MaxSegDataSize
)

// Segment classification on receive
const (
	DataSeg = iota
	AckSeg
	FinWithAck
	FinNoAck
)

// 4-way termination teardown states
const (
	NoClose = iota
	ActiveClose
	PassiveClose
)

// RetryBudget is the number of consecutive RTO expiries a connection
// survives before it force-FINs. The budget is per connection, not per
// segment.
const RetryBudget = 6

// truncateSentinel marks a truncated read when it begins an input chunk.
// Test-harness convention inherited from the reference feeder.
const truncateSentinel = "###truncate###"
