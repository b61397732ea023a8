package lib

import "github.com/pkg/errors"

// errPoolExhausted marks a failed chunk allocation. The connection holding
// the failed allocation is aborted; there is no user-visible error channel.
var errPoolExhausted = errors.New("payload pool exhausted")

// DatagramAdapter is the contract the core consumes from the unreliable
// datagram layer and the local byte streams. All calls are non-blocking and
// return immediately; none of them may invoke back into the core.
type DatagramAdapter interface {
	// SendDatagram hands one outbound frame to the datagram layer. It may
	// partial-write; the core loops until every byte is accepted.
	SendDatagram(p []byte) (int, error)

	// Input reads from the local input stream: (n>0, nil) delivers bytes,
	// (0, nil) means the read would block, (0, io.EOF) marks end of stream.
	Input(p []byte) (int, error)

	// Output writes toward the local output stream and may partial-write.
	// A nil slice delivers the zero-length end-of-stream marker.
	Output(p []byte) (int, error)

	// Bufspace reports how many bytes the output stream currently accepts.
	Bufspace() int

	// Remove tells the adapter its connection is being destroyed.
	Remove()

	// EndClient notifies the host that the endpoint is done.
	EndClient()
}
