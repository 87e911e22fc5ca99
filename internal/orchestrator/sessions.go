package orchestrator

// Session history: a bounded ring of recent sessions kept for feedback
// validation and inspection. Feedback arrives after the routing response
// has been returned, so completed sessions must stay reachable for a
// while; the ring bounds that window by count rather than time.

// track registers a session and evicts the oldest past the history cap.
func (o *Orchestrator) track(sess *Session) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sessions[sess.ID] = sess
	o.order = append(o.order, sess.ID)
	for len(o.order) > o.cfg.SessionHistory {
		evicted := o.order[0]
		o.order = o.order[1:]
		delete(o.sessions, evicted)
	}
}

// GetSession returns a detached copy of a tracked session.
func (o *Orchestrator) GetSession(id string) (Session, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	sess, ok := o.sessions[id]
	if !ok {
		return Session{}, false
	}
	return sess.clone(), true
}

// RecentSessions returns up to n tracked sessions, newest first.
func (o *Orchestrator) RecentSessions(n int) []Session {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if n <= 0 || n > len(o.order) {
		n = len(o.order)
	}
	out := make([]Session, 0, n)
	for i := len(o.order) - 1; i >= 0 && len(out) < n; i-- {
		if sess, ok := o.sessions[o.order[i]]; ok {
			out = append(out, sess.clone())
		}
	}
	return out
}

// SessionCount returns how many sessions the ring currently tracks.
func (o *Orchestrator) SessionCount() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.sessions)
}
