package collector

import (
	"sort"
	"time"

	"github.com/danmuck/tracectl/internal/admin"
)

func (s *Service) openSession(id uint64, remote string) {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	s.sessions[id] = &admin.SessionStatus{
		ID:        id,
		Remote:    remote,
		State:     admin.SessionStateHandshake,
		StartedAt: time.Now(),
	}
}

func (s *Service) updateSession(id uint64, mutate func(*admin.SessionStatus)) {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	if st, ok := s.sessions[id]; ok {
		mutate(st)
	}
}

// SnapshotSessions returns a point-in-time copy of session state in
// start order.
func (s *Service) SnapshotSessions() []admin.SessionStatus {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	out := make([]admin.SessionStatus, 0, len(s.sessions))
	for _, st := range s.sessions {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
