package handlers

import "time"

const EventQueueSize = eventQueueSize

func (m Main) EvictIdleSessions(cutoff time.Time) int {
	return m.sessions.evictIdle(cutoff)
}

func (m Main) LiveSessions() int {
	m.sessions.mu.Lock()
	defer m.sessions.mu.Unlock()
	return len(m.sessions.byID)
}
