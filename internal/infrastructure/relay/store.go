package relay

import (
	"sync"
	"time"

	"github.com/javaarchive/togetherfin/internal/core/domain"
)

// Default per-room capacities. Manifests and init segments (special tier)
// are referenced for the whole session and must survive segment churn;
// ordinary segments are transient and bounded so long sessions cannot grow
// memory without limit.
const (
	DefaultMaxSpecial = 100
	DefaultMaxDefault = 400
)

// StoreFile is one ciphertext blob at rest. The store never sees plaintext;
// ContentType is an opaque hint supplied by the uploader.
type StoreFile struct {
	ReceivedAt  time.Time
	Channel     domain.Channel
	Data        []byte
	ContentType string

	seq uint64
}

// journalEntry records one insertion in FIFO order. seq ties the entry to
// the exact Put that created it: when a key is overwritten the newer Put
// advances the file's seq, orphaning the old entry, and GC drops it.
type journalEntry struct {
	seq uint64
	key domain.ContentID
}

// PutResult reports what a Put evicted, for metrics.
type PutResult struct {
	EvictedSpecial int
	EvictedDefault int
}

// Store is a per-room, capacity-bounded, two-tier key to ciphertext map
// with FIFO eviction and journal-based consistency repair. A Put and its GC
// pass run under one lock acquisition, so no reader observes a
// half-inserted journal entry.
type Store struct {
	mu sync.Mutex

	files          map[domain.ContentID]*StoreFile
	specialJournal []journalEntry
	defaultJournal []journalEntry

	maxSpecial int
	maxDefault int
	nextSeq    uint64
}

// NewStore creates a store with the given tier capacities. Non-positive
// capacities fall back to the defaults.
func NewStore(maxSpecial, maxDefault int) *Store {
	if maxSpecial <= 0 {
		maxSpecial = DefaultMaxSpecial
	}
	if maxDefault <= 0 {
		maxDefault = DefaultMaxDefault
	}
	return &Store{
		files:      make(map[domain.ContentID]*StoreFile),
		maxSpecial: maxSpecial,
		maxDefault: maxDefault,
	}
}

// Put inserts or overwrites a ciphertext blob, journals the insertion in
// its tier, and garbage collects.
func (s *Store) Put(key domain.ContentID, data []byte, contentType string) PutResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextSeq++
	file := &StoreFile{
		ReceivedAt:  time.Now(),
		Channel:     domain.ChannelOf(key),
		Data:        data,
		ContentType: contentType,
		seq:         s.nextSeq,
	}
	s.files[key] = file

	entry := journalEntry{seq: file.seq, key: key}
	if file.Channel == domain.ChannelSpecial {
		s.specialJournal = append(s.specialJournal, entry)
	} else {
		s.defaultJournal = append(s.defaultJournal, entry)
	}

	return s.gc()
}

// Get returns the stored file for key, or domain.ErrFileNotFound.
func (s *Store) Get(key domain.ContentID) (*StoreFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, ok := s.files[key]
	if !ok {
		return nil, domain.ErrFileNotFound
	}
	return file, nil
}

// Len reports the number of live journal entries in a tier.
func (s *Store) Len(channel domain.Channel) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if channel == domain.ChannelSpecial {
		return len(s.specialJournal)
	}
	return len(s.defaultJournal)
}

// gc repairs each journal and then evicts oldest-first past capacity.
// Caller must hold s.mu.
func (s *Store) gc() PutResult {
	// Drop journal entries whose seq no longer matches the live file: the
	// key was overwritten and a newer entry supersedes this one.
	s.specialJournal = s.repair(s.specialJournal)
	s.defaultJournal = s.repair(s.defaultJournal)

	var res PutResult
	for len(s.specialJournal) > s.maxSpecial {
		toDelete := s.specialJournal[0]
		s.specialJournal = s.specialJournal[1:]
		delete(s.files, toDelete.key)
		res.EvictedSpecial++
	}
	for len(s.defaultJournal) > s.maxDefault {
		toDelete := s.defaultJournal[0]
		s.defaultJournal = s.defaultJournal[1:]
		delete(s.files, toDelete.key)
		res.EvictedDefault++
	}
	return res
}

func (s *Store) repair(journal []journalEntry) []journalEntry {
	live := journal[:0]
	for _, entry := range journal {
		if file, ok := s.files[entry.key]; ok && file.seq == entry.seq {
			live = append(live, entry)
		}
	}
	return live
}
