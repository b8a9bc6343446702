package identity

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketIdentities = []byte("identities")
	bucketAuth       = []byte("auth")
	keyChatToken     = []byte("chatToken")
)

// Store persists the per-chat pseudonymous identity map plus the latest
// issued chat auth token. A chat id always resolves to the same user id
// for the lifetime of the backing file. When the file cannot be opened
// the store degrades to process-local memory: identities stop surviving
// restarts but messaging is never blocked.
type Store struct {
	mu       sync.Mutex
	db       *bolt.DB
	mem      map[string]string
	memToken string
	log      zerolog.Logger
}

// Open opens (or creates) the identity database at path. Open never
// fails; an unusable path yields an ephemeral in-memory store.
func Open(path string, logger zerolog.Logger) *Store {
	s := &Store{mem: make(map[string]string), log: logger}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("identity store unavailable, identities will be ephemeral")
		return s
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketIdentities); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketAuth)
		return err
	})
	if err != nil {
		logger.Warn().Err(err).Msg("identity store init failed, identities will be ephemeral")
		_ = db.Close()
		return s
	}
	s.db = db
	return s
}

// UserID returns the stable pseudonymous id for chatID, generating and
// persisting one on first use.
func (s *Store) UserID(chatID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		if id, ok := s.mem[chatID]; ok {
			return id
		}
		id := newUserID()
		s.mem[chatID] = id
		return id
	}

	var id string
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketIdentities)
		if v := b.Get([]byte(chatID)); v != nil {
			id = string(v)
			return nil
		}
		id = newUserID()
		return b.Put([]byte(chatID), []byte(id))
	})
	if err != nil {
		s.log.Warn().Err(err).Str("chat_id", chatID).Msg("identity write failed")
		if cached, ok := s.mem[chatID]; ok {
			return cached
		}
		if id == "" {
			id = newUserID()
		}
		s.mem[chatID] = id
	}
	return id
}

// SetChatToken records the auth token returned by the most recent chat
// creation. Last writer wins.
func (s *Store) SetChatToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memToken = token
	if s.db == nil {
		return
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAuth).Put(keyChatToken, []byte(token))
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("chat token write failed")
	}
}

// ChatToken returns the latest stored chat auth token, or "".
func (s *Store) ChatToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return s.memToken
	}
	var token string
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketAuth).Get(keyChatToken); v != nil {
			token = string(v)
		}
		return nil
	})
	if err != nil {
		return s.memToken
	}
	return token
}

// Close releases the backing database. Safe to call more than once.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	db := s.db
	s.db = nil
	return db.Close()
}

func newUserID() string {
	// First 8 hex chars of a v4 UUID, same shape the web client stores.
	return uuid.NewString()[:8]
}
