package transport

import (
	"io"
	"sync"
)

// ChanStream is a Stream fed by a producer goroutine. The producer calls Send
// for every event and Finish once; Close may be called by either side.
type ChanStream struct {
	ch      chan *Response
	done    chan struct{}
	once    sync.Once
	mu      sync.Mutex
	err     error
	onClose func()
}

// NewChanStream returns a stream whose Close runs onClose once.
func NewChanStream(buffer int, onClose func()) *ChanStream {
	return &ChanStream{
		ch:      make(chan *Response, buffer),
		done:    make(chan struct{}),
		onClose: onClose,
	}
}

// Send delivers resp unless the stream was closed. It reports whether the
// event was accepted.
func (s *ChanStream) Send(resp *Response) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.ch <- resp:
		return true
	case <-s.done:
		return false
	}
}

// Offer delivers resp without blocking. It reports false when the stream was
// closed or its buffer is full.
func (s *ChanStream) Offer(resp *Response) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.ch <- resp:
		return true
	default:
		return false
	}
}

// Finish ends the stream. Recv returns err, or io.EOF when err is nil, after
// the buffered events drained.
func (s *ChanStream) Finish(err error) {
	s.mu.Lock()
	if s.err == nil {
		if err == nil {
			err = io.EOF
		}
		s.err = err
	}
	s.mu.Unlock()
	s.Close()
}

func (s *ChanStream) Recv() (*Response, error) {
	select {
	case r := <-s.ch:
		return r, nil
	default:
	}
	select {
	case r := <-s.ch:
		return r, nil
	case <-s.done:
		select {
		case r := <-s.ch:
			return r, nil
		default:
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.err == nil {
			return nil, io.EOF
		}
		return nil, s.err
	}
}

func (s *ChanStream) Close() error {
	s.once.Do(func() {
		close(s.done)
		if s.onClose != nil {
			s.onClose()
		}
	})
	return nil
}

// Done is closed once the stream finished or was closed.
func (s *ChanStream) Done() <-chan struct{} { return s.done }
