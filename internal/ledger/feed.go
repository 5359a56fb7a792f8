package ledger

import (
	"go.uber.org/zap"

	"github.com/VeltarosLabs/powledger/internal/blockchain"
)

// Subscribe returns a channel receiving every block accepted after the
// call, and a function that cancels the subscription and closes the
// channel. A subscriber whose buffer is full misses blocks rather than
// stalling the writer.
func (s *Service) Subscribe(buffer int) (<-chan blockchain.Block, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan blockchain.Block, buffer)

	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.subMu.Unlock()

	var once bool
	cancel := func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if once {
			return
		}
		once = true
		delete(s.subs, id)
		close(ch)
	}
	return ch, cancel
}

func (s *Service) Subscribers() int {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	return len(s.subs)
}

func (s *Service) publish(b blockchain.Block) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	for id, ch := range s.subs {
		select {
		case ch <- b.Clone():
		default:
			s.log.Debug("subscriber lagging, block dropped", zap.Uint64("subscriber", id), zap.Uint64("index", b.Index))
		}
	}
}
