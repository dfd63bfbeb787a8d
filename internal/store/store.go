// Package store holds the central message store shared by every chat
// service. All adapters deliver batches into one Store; it deduplicates,
// merges author updates, applies deleter items and evicts old messages under
// a fixed capacity.
package store

import (
	"sync"

	"go.uber.org/zap"

	"github.com/john/chatfeed/internal/chat"
)

// DefaultCapacity bounds the number of stored messages.
const DefaultCapacity = 1000

// Listener observes store changes. Callbacks run synchronously on the
// appending goroutine while the store lock is held: implementations must be
// fast, must not call back into the store, and must treat the passed values
// as read-only.
type Listener interface {
	// OnMessageAdded fires once per newly stored message.
	OnMessageAdded(msg chat.Message, author chat.Author)

	// OnMessageUpdated fires when a stored message mutates: a deleter was
	// applied, or its author's updatable fields changed. fields names the
	// changed fields.
	OnMessageUpdated(msg chat.Message, fields []string)
}

type authorEntry struct {
	author *chat.Author

	// messageIDs is a non-owning back-reference to the stored messages this
	// author wrote. Eviction drops entries here without touching the author.
	messageIDs map[string]struct{}
}

// Store is the single shared mutable resource of the engine. A mutex
// serializes appends from concurrently running adapters; reads observe a
// consistent snapshot.
type Store struct {
	mu        sync.RWMutex
	capacity  int
	messages  []*chat.Message
	byID      map[string]*chat.Message
	authors   map[string]*authorEntry
	listeners []Listener
	nextSeq   uint64
	log       *zap.Logger
}

func New(capacity int, log *zap.Logger) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		capacity: capacity,
		byID:     make(map[string]*chat.Message),
		authors:  make(map[string]*authorEntry),
		log:      log,
	}
}

// AddListener registers a change observer. Not safe to call concurrently
// with Append; wire listeners up before the adapters start.
func (s *Store) AddListener(l Listener) {
	s.listeners = append(s.listeners, l)
}

// Append applies one message to the store.
//
// A message whose id is already stored is ignored, unless it carries the
// DeleterItem flag: then the stored message is marked deleted in place, its
// body replaced with a placeholder, and a single update notification fires.
// A deleter for an unknown id is a no-op. Duplicates and unknown deleters
// are expected under polling overlap and never corrupt ordering.
//
// author may be nil only for deleter messages.
func (s *Store) Append(msg chat.Message, author *chat.Author) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.ID == "" {
		s.log.Warn("dropping message without id")
		return
	}

	if msg.HasFlag(chat.DeleterItem) {
		s.applyDeleter(msg.ID)
		return
	}

	if _, ok := s.byID[msg.ID]; ok {
		return
	}

	if author == nil {
		s.log.Warn("dropping message without author", zap.String("id", msg.ID))
		return
	}

	stored := s.upsertAuthor(author)

	s.nextSeq++
	msg.Seq = s.nextSeq

	m := &msg
	s.messages = append(s.messages, m)
	s.byID[m.ID] = m
	stored.messageIDs[m.ID] = struct{}{}

	for _, l := range s.listeners {
		l.OnMessageAdded(*m, *stored.author)
	}

	s.evict()
}

func (s *Store) applyDeleter(id string) {
	target, ok := s.byID[id]
	if !ok {
		return
	}
	if target.HasFlag(chat.MarkedAsDeleted) {
		return
	}

	target.SetFlag(chat.MarkedAsDeleted, true)
	target.SetPlainText(chat.DeletedPlaceholder)

	for _, l := range s.listeners {
		l.OnMessageUpdated(*target, []string{"markedAsDeleted", "contents"})
	}
}

// upsertAuthor inserts a new author or merges the updatable subset into the
// existing record. A merge that changes anything notifies every stored
// message by that author, restricted to the changed fields.
func (s *Store) upsertAuthor(author *chat.Author) *authorEntry {
	entry, ok := s.authors[author.ID]
	if !ok {
		copied := *author
		entry = &authorEntry{
			author:     &copied,
			messageIDs: make(map[string]struct{}),
		}
		s.authors[author.ID] = entry
		return entry
	}

	changed := entry.author.Update(author)
	if len(changed) == 0 {
		return entry
	}

	for id := range entry.messageIDs {
		if m, ok := s.byID[id]; ok {
			for _, l := range s.listeners {
				l.OnMessageUpdated(*m, changed)
			}
		}
	}

	return entry
}

// evict removes the oldest messages while over capacity. Removal is a true
// delete: the id is freed and the author's back-reference dropped. Authors
// themselves are never evicted.
func (s *Store) evict() {
	over := len(s.messages) - s.capacity
	if over <= 0 {
		return
	}

	for _, m := range s.messages[:over] {
		delete(s.byID, m.ID)
		if entry, ok := s.authors[m.AuthorID]; ok {
			delete(entry.messageIDs, m.ID)
		}
	}
	s.messages = append(s.messages[:0], s.messages[over:]...)
}

// Contains reports whether a message with the given id is currently stored.
func (s *Store) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byID[id]
	return ok
}

// GetAuthor returns a snapshot of the author with the given id.
func (s *Store) GetAuthor(id string) (chat.Author, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.authors[id]
	if !ok {
		return chat.Author{}, false
	}
	return *entry.author, true
}

// GetLastMessages returns snapshots of the up-to-n most recently stored
// messages in their original relative order, oldest first.
func (s *Store) GetLastMessages(n int) []chat.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n > len(s.messages) {
		n = len(s.messages)
	}
	if n <= 0 {
		return nil
	}

	out := make([]chat.Message, 0, n)
	for _, m := range s.messages[len(s.messages)-n:] {
		out = append(out, *m)
	}
	return out
}

// Len returns the number of stored messages.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Clear drops all messages and author back-references.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = nil
	s.byID = make(map[string]*chat.Message)
	for _, entry := range s.authors {
		entry.messageIDs = make(map[string]struct{})
	}
}
