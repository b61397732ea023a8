package lib

import (
	"io"
	"log"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
)

const (
	inputChunkBacklog = 64
	// outputBufferSpace is what the stdio sink advertises. Stream writes are
	// buffered by the OS, so a fixed budget larger than any entry suffices.
	outputBufferSpace = 64 * 1024
)

// SysConn binds a UDP socket and a pair of local byte streams to one
// connection. Feeder goroutines pull from the socket and the input stream;
// Run multiplexes their events plus the tick source onto the engine's entry
// points one at a time, which is the serialization the core relies on.
type SysConn struct {
	udp      *net.UDPConn
	remote   *net.UDPAddr // nil on the listening side until the peer speaks
	remoteMu sync.Mutex

	in  io.Reader
	out io.Writer

	inCh  chan []byte
	inBuf []byte

	dgramCh    chan []byte
	inReadyCh  chan struct{}
	outSpaceCh chan struct{}
	done       chan struct{}
	closeOnce  sync.Once
	wg         sync.WaitGroup
}

// DialSysConn opens a UDP socket bound to localAddr (any port when empty)
// and targets remoteAddr.
func DialSysConn(localAddr, remoteAddr string, in io.Reader, out io.Writer) (*SysConn, error) {
	raddr, err := net.ResolveUDPAddr("udp", remoteAddr)
	if err != nil {
		return nil, errors.Wrapf(err, "resolving remote address %s", remoteAddr)
	}
	var laddr *net.UDPAddr
	if localAddr != "" {
		if laddr, err = net.ResolveUDPAddr("udp", localAddr); err != nil {
			return nil, errors.Wrapf(err, "resolving local address %s", localAddr)
		}
	}
	udp, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, errors.Wrap(err, "opening UDP socket")
	}
	return newSysConn(udp, raddr, in, out), nil
}

// ListenSysConn opens a UDP socket on localAddr and adopts the first peer
// that sends a datagram.
func ListenSysConn(localAddr string, in io.Reader, out io.Writer) (*SysConn, error) {
	laddr, err := net.ResolveUDPAddr("udp", localAddr)
	if err != nil {
		return nil, errors.Wrapf(err, "resolving local address %s", localAddr)
	}
	udp, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, errors.Wrap(err, "opening UDP socket")
	}
	return newSysConn(udp, nil, in, out), nil
}

func newSysConn(udp *net.UDPConn, remote *net.UDPAddr, in io.Reader, out io.Writer) *SysConn {
	s := &SysConn{
		udp:        udp,
		remote:     remote,
		in:         in,
		out:        out,
		inCh:       make(chan []byte, inputChunkBacklog),
		dgramCh:    make(chan []byte, inputChunkBacklog),
		inReadyCh:  make(chan struct{}, 1),
		outSpaceCh: make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	s.wg.Add(2)
	go s.inputFeeder()
	go s.datagramFeeder()
	return s
}

// inputFeeder moves the blocking input stream into chunk-sized, non-blocking
// territory: every chunk lands on inCh and pokes the input-ready event.
func (s *SysConn) inputFeeder() {
	defer s.wg.Done()
	defer close(s.inCh)
	buf := make([]byte, MaxSegDataSize)
	for {
		n, err := s.in.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case s.inCh <- chunk:
			case <-s.done:
				return
			}
			s.signalInputReady()
		}
		if err != nil {
			if err != io.EOF {
				log.Println("input feeder:", err)
			}
			// One last input-ready event so the engine observes EOF.
			s.signalInputReady()
			return
		}
	}
}

func (s *SysConn) signalInputReady() {
	select {
	case s.inReadyCh <- struct{}{}:
	default:
	}
}

// NotifyOutputSpace tells the engine the output stream freed some space.
func (s *SysConn) NotifyOutputSpace() {
	select {
	case s.outSpaceCh <- struct{}{}:
	default:
	}
}

func (s *SysConn) datagramFeeder() {
	defer s.wg.Done()
	buf := make([]byte, MaxSegmentSize)
	for {
		n, addr, err := s.udp.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-s.done:
			default:
				log.Println("datagram feeder:", err)
			}
			return
		}
		s.remoteMu.Lock()
		if s.remote == nil {
			s.remote = addr
			log.Printf("Adopted peer %s\n", addr)
		}
		known := addrEqual(s.remote, addr)
		s.remoteMu.Unlock()
		if !known {
			continue
		}
		frame := make([]byte, n)
		copy(frame, buf[:n])
		select {
		case s.dgramCh <- frame:
		case <-s.done:
			return
		}
	}
}

func addrEqual(a, b *net.UDPAddr) bool {
	return a.IP.Equal(b.IP) && a.Port == b.Port
}

// Run drives the engine until the connection ends. It is the single place
// entry points are invoked from, so they can never overlap.
func (s *SysConn) Run(core *Core, conn *Connection, tickInterval time.Duration) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-s.inReadyCh:
			conn.OnInputReady()
		case frame := <-s.dgramCh:
			conn.OnDatagram(frame)
		case <-s.outSpaceCh:
			conn.OnOutputSpace()
		case <-ticker.C:
			core.Tick()
		}
	}
}

// Done is closed once the engine has torn the connection down.
func (s *SysConn) Done() <-chan struct{} {
	return s.done
}

// DatagramAdapter implementation

func (s *SysConn) SendDatagram(p []byte) (int, error) {
	s.remoteMu.Lock()
	remote := s.remote
	s.remoteMu.Unlock()
	if remote == nil {
		return 0, errors.New("no peer adopted yet")
	}
	return s.udp.WriteToUDP(p, remote)
}

func (s *SysConn) Input(p []byte) (int, error) {
	if len(s.inBuf) == 0 {
		select {
		case chunk, ok := <-s.inCh:
			if !ok {
				return 0, io.EOF
			}
			s.inBuf = chunk
		default:
			return 0, nil
		}
	}
	n := copy(p, s.inBuf)
	s.inBuf = s.inBuf[n:]
	return n, nil
}

func (s *SysConn) Output(p []byte) (int, error) {
	if p == nil {
		// Zero-length end-of-stream marker; a byte stream has nothing to
		// write for it.
		return 0, nil
	}
	return s.out.Write(p)
}

func (s *SysConn) Bufspace() int {
	return outputBufferSpace
}

func (s *SysConn) Remove() {
	s.udp.Close()
}

func (s *SysConn) EndClient() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}
