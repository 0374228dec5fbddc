package framing

import "slices"

// Session is the append-only string dictionary of one direction of a
// connection. The writer's session and the reader's session must assign
// indexes in the same order. A Session is not safe for concurrent use; it
// is guarded by the read or write lock of its connection.
type Session struct {
	strs    []string
	index   map[string]int
	pending int
	max     int
}

// NewSession returns an empty session holding at most max strings.
func NewSession(max int) *Session {
	return &Session{index: make(map[string]int), max: max}
}

// Len returns the number of strings.
func (s *Session) Len() int { return len(s.strs) }

// Strings returns a copy of the strings in index order.
func (s *Session) Strings() []string { return slices.Clone(s.strs) }

// Lookup returns the index of str.
func (s *Session) Lookup(str string) (int, bool) {
	i, ok := s.index[str]
	return i, ok
}

// Add returns the index of str, appending it when unseen. New strings stay
// pending until they are committed.
func (s *Session) Add(str string) (int, bool) {
	if i, ok := s.index[str]; ok {
		return i, true
	}
	if len(s.strs) >= s.max {
		return 0, false
	}
	i := len(s.strs)
	s.strs = append(s.strs, str)
	s.index[str] = i
	s.pending++
	return i, true
}

// Get returns the string at idx.
func (s *Session) Get(idx int) (string, bool) {
	if idx < 0 || idx >= len(s.strs) {
		return "", false
	}
	return s.strs[idx], true
}

// Pending returns the strings added since the last Commit in first-use
// order. They form the inline dictionary block of the next envelope.
func (s *Session) Pending() []string {
	if s.pending == 0 {
		return nil
	}
	return slices.Clone(s.strs[len(s.strs)-s.pending:])
}

// Commit marks the pending strings as sent.
func (s *Session) Commit() { s.pending = 0 }

// TakePending returns the pending strings and commits them.
func (s *Session) TakePending() []string {
	p := s.Pending()
	s.Commit()
	return p
}

// Rollback forgets the pending strings, for a message that was encoded but
// never sent.
func (s *Session) Rollback() {
	for _, str := range s.strs[len(s.strs)-s.pending:] {
		delete(s.index, str)
	}
	s.strs = s.strs[:len(s.strs)-s.pending]
	s.pending = 0
}

// Replay appends strings read from an inline dictionary block, in order.
// A string that is already known or a block that overflows the session is a
// protocol violation.
func (s *Session) Replay(strs []string) error {
	if len(s.strs)+len(strs) > s.max {
		return Violation("", "session dictionary exceeds %d strings", s.max)
	}
	for _, str := range strs {
		if _, ok := s.index[str]; ok {
			return Violation("", "dictionary string %q sent twice", str)
		}
		s.index[str] = len(s.strs)
		s.strs = append(s.strs, str)
	}
	return nil
}
