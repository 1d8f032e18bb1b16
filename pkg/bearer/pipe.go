package bearer

import (
	"sync"

	"github.com/pion/logging"
)

// PipeConfig configures an in-memory bearer pair.
type PipeConfig struct {
	// MTU overrides NetworkMTU when positive.
	MTU int

	// BufferSize is the number of in-flight frames per direction before
	// Send blocks. Zero selects a default of 16.
	BufferSize int

	// Filter, when set, is consulted for every sent frame; returning
	// false drops the frame. Tests use this to simulate a lossy radio.
	Filter func(data []byte) bool

	// LoggerFactory creates the pipe logger. Nil disables logging.
	LoggerFactory logging.LoggerFactory
}

// Pipe creates a connected pair of in-memory bearers. Frames sent on one
// end arrive at the other in order, subject to the configured filter.
func Pipe(config PipeConfig) (Bearer, Bearer) {
	mtu := config.MTU
	if mtu <= 0 {
		mtu = NetworkMTU
	}
	size := config.BufferSize
	if size <= 0 {
		size = 16
	}
	var log logging.LeveledLogger
	if config.LoggerFactory != nil {
		log = config.LoggerFactory.NewLogger("pipe")
	}

	ab := make(chan []byte, size)
	ba := make(chan []byte, size)
	done := make(chan struct{})
	shared := &pipeShared{done: done}

	a := &pipeEnd{mtu: mtu, filter: config.Filter, log: log, tx: ab, rx: ba, shared: shared}
	b := &pipeEnd{mtu: mtu, filter: config.Filter, log: log, tx: ba, rx: ab, shared: shared}
	return a, b
}

// pipeShared holds the close state common to both ends. Closing either end
// tears the whole pipe down, matching how a radio link dies for both
// parties at once.
type pipeShared struct {
	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func (s *pipeShared) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.done)
	}
}

func (s *pipeShared) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type pipeEnd struct {
	mtu    int
	filter func([]byte) bool
	log    logging.LeveledLogger
	tx     chan []byte
	rx     chan []byte
	shared *pipeShared
}

func (p *pipeEnd) Send(data []byte) error {
	if len(data) > p.mtu {
		return ErrFrameTooLarge
	}
	if p.shared.isClosed() {
		return ErrClosed
	}
	if p.filter != nil && !p.filter(data) {
		if p.log != nil {
			p.log.Tracef("dropping %d byte frame", len(data))
		}
		return nil
	}

	frame := make([]byte, len(data))
	copy(frame, data)
	select {
	case p.tx <- frame:
		return nil
	case <-p.shared.done:
		return ErrClosed
	}
}

func (p *pipeEnd) Receive() ([]byte, error) {
	select {
	case frame := <-p.rx:
		return frame, nil
	case <-p.shared.done:
		// Drain frames that arrived before the close.
		select {
		case frame := <-p.rx:
			return frame, nil
		default:
			return nil, ErrClosed
		}
	}
}

func (p *pipeEnd) MTU() int {
	return p.mtu
}

func (p *pipeEnd) Close() error {
	p.shared.close()
	return nil
}
