// Package conversation holds the message list of the one open conversation and
// resolves the races between its history fetch and live push events.
//
// A Store is not safe for concurrent use; the sync engine confines it to its loop.
package conversation

import (
	"github.com/matheus3301/dmsync/internal/model"
)

// Outcome reports what ApplyIncoming did with a message.
type Outcome int

const (
	// Ignored means the message does not belong to the open conversation.
	Ignored Outcome = iota
	// Unchanged means the message was already present with the same state.
	Unchanged
	// Inserted means the message was new.
	Inserted
	// Refreshed means a known message had its timestamp or read state updated.
	Refreshed
)

func (o Outcome) String() string {
	switch o {
	case Unchanged:
		return "unchanged"
	case Inserted:
		return "inserted"
	case Refreshed:
		return "refreshed"
	}
	return "ignored"
}

// Store is the open conversation between the current user and one peer.
//
// Opening a peer bumps the generation; only the history result carrying the
// current generation is ever applied. Until it arrives, the previously shown
// list stays visible and live events for the new peer are staged, then merged
// into the history when it resolves.
type Store struct {
	me int64

	peer    int64
	gen     uint64
	loading bool
	err     error

	shown    int64
	messages []model.Message

	staged     []model.Message
	tombstones map[int64]struct{}
	edits      map[int64]string
}

// New creates an empty store for the given current user.
func New(me int64) *Store {
	return &Store{me: me}
}

// Open makes peer the active conversation and returns the generation its
// history fetch must present to Resolve or Fail.
func (s *Store) Open(peer int64) uint64 {
	if peer != s.peer {
		s.staged = nil
	}
	s.gen++
	s.peer = peer
	s.loading = true
	s.err = nil
	s.tombstones = make(map[int64]struct{})
	s.edits = make(map[int64]string)
	return s.gen
}

// Resolve applies a history result. Results from a superseded generation are
// discarded and Resolve returns false.
func (s *Store) Resolve(gen uint64, history []model.Message) bool {
	if gen != s.gen || !s.loading {
		return false
	}
	list := make([]model.Message, 0, len(history)+len(s.staged))
	for _, m := range history {
		if m.Valid() && m.PeerOf(s.me) == s.peer {
			list, _ = upsert(list, m)
		}
	}
	for _, m := range s.staged {
		list, _ = upsert(list, m)
	}
	for id, text := range s.edits {
		list, _ = edit(list, id, text)
	}
	for id := range s.tombstones {
		list, _ = remove(list, id)
	}

	s.messages = list
	s.shown = s.peer
	s.staged = nil
	s.tombstones = nil
	s.edits = nil
	s.loading = false
	s.err = nil
	return true
}

// Fail records a failed history fetch. The visible messages are left as they
// were; the error is kept until the next Open.
func (s *Store) Fail(gen uint64, err error) bool {
	if gen != s.gen || !s.loading {
		return false
	}
	s.loading = false
	s.err = err
	return true
}

// ApplyIncoming upserts a message by id. Applying the same message twice is a
// no-op beyond refreshing its timestamp and read state.
func (s *Store) ApplyIncoming(m model.Message) Outcome {
	if s.peer == 0 || !m.Valid() || m.PeerOf(s.me) != s.peer {
		return Ignored
	}
	if _, gone := s.tombstones[m.ID]; gone {
		return Unchanged
	}

	var out Outcome
	if s.shown == s.peer {
		s.messages, out = upsert(s.messages, m)
	}
	if s.loading || s.shown != s.peer {
		var staged Outcome
		s.staged, staged = upsert(s.staged, m)
		if s.shown != s.peer {
			out = staged
		}
	}
	return out
}

// ApplyEdit replaces the text of a known message. Unknown ids are dropped.
func (s *Store) ApplyEdit(id int64, text string) bool {
	if s.loading {
		s.edits[id] = text
	}
	var a, b bool
	s.messages, a = edit(s.messages, id, text)
	s.staged, b = edit(s.staged, id, text)
	return a || b
}

// ApplyDeletion removes a known message. Unknown ids are dropped.
func (s *Store) ApplyDeletion(id int64) bool {
	if s.loading {
		s.tombstones[id] = struct{}{}
	}
	var a, b bool
	s.messages, a = remove(s.messages, id)
	s.staged, b = remove(s.staged, id)
	return a || b
}

// Peer returns the active peer, 0 when no conversation was opened.
func (s *Store) Peer() int64 { return s.peer }

// Generation returns the generation of the latest Open.
func (s *Store) Generation() uint64 { return s.gen }

// Loading reports whether the latest history fetch is outstanding.
func (s *Store) Loading() bool { return s.loading }

// Err returns the error of the latest failed history fetch.
func (s *Store) Err() error { return s.err }

// Shown returns the peer whose messages are currently visible.
func (s *Store) Shown() int64 { return s.shown }

// Showing reports whether peer's settled history is the visible list.
func (s *Store) Showing(peer int64) bool {
	return peer != 0 && s.shown == peer && !s.loading
}

// Messages returns a copy of the visible messages in timestamp order.
func (s *Store) Messages() []model.Message {
	out := make([]model.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Last returns the newest visible message.
func (s *Store) Last() (model.Message, bool) {
	if len(s.messages) == 0 {
		return model.Message{}, false
	}
	return s.messages[len(s.messages)-1], true
}

// Find looks a message up among the visible and staged messages.
func (s *Store) Find(id int64) (model.Message, bool) {
	for _, list := range [][]model.Message{s.messages, s.staged} {
		if i := indexOf(list, id); i >= 0 {
			return list[i], true
		}
	}
	return model.Message{}, false
}

// Snapshot is a read-only copy of the store state.
type Snapshot struct {
	Peer       int64           `json:"peer"`
	Shown      int64           `json:"shown"`
	Generation uint64          `json:"generation"`
	Loading    bool            `json:"loading"`
	Error      string          `json:"error,omitempty"`
	Messages   []model.Message `json:"messages"`
}

// Snapshot copies the current state.
func (s *Store) Snapshot() Snapshot {
	snap := Snapshot{
		Peer:       s.peer,
		Shown:      s.shown,
		Generation: s.gen,
		Loading:    s.loading,
		Messages:   s.Messages(),
	}
	if s.err != nil {
		snap.Error = s.err.Error()
	}
	return snap
}
