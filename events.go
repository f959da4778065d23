package gcn

import "time"

// post enqueues fn to run on the event-loop goroutine. Every accept,
// session-read, link-read, and timer task in the service calls this instead
// of touching tables/stats/announce state directly, which is what lets the
// rest of the code mutate that state without locks.
func (s *Service) post(fn func(*Service)) {
	select {
	case s.events <- fn:
	case <-s.closed:
	}
}

// armTimer (re)arms the timer identified by key to fire fn, on the event
// loop, after d. Arming a key that already has a pending timer invalidates
// the old one: its callback becomes a no-op when it eventually fires. This
// is the generation-counter idiom the concurrency design note calls for in
// place of literally cancelling a shared_ptr'd deadline_timer.
func (s *Service) armTimer(key string, d time.Duration, fn func(*Service)) {
	s.timerGen[key]++
	gen := s.timerGen[key]

	timer := time.AfterFunc(d, func() {
		s.post(func(svc *Service) {
			if svc.timerGen[key] != gen {
				return
			}
			fn(svc)
		})
	})
	s.timerHandles[key] = timer
}

// cancelTimer prevents a pending timer for key from firing its callback,
// without needing to synchronize with time.AfterFunc's own goroutine.
func (s *Service) cancelTimer(key string) {
	s.timerGen[key]++
	if timer, exists := s.timerHandles[key]; exists {
		timer.Stop()
		delete(s.timerHandles, key)
	}
}
