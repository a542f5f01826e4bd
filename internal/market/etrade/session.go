package etrade

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

const sessionKey = "etrade/session"

// Session is an authorised OAuth access token.
type Session struct {
	Token     string    `json:"token"`
	Secret    string    `json:"secret"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionStore keeps the access token in an encrypted-at-rest Badger database.
// Entries expire at the next US Eastern midnight, when E*TRADE revokes tokens anyway.
type SessionStore struct {
	db  *badger.DB
	now func() time.Time
}

type SessionOptions struct {
	Path string
	// EncryptionKey must be 16, 24 or 32 bytes. Empty leaves the database unencrypted.
	EncryptionKey []byte
	// InMemory ignores Path; used in tests.
	InMemory bool
}

func OpenSessionStore(opts SessionOptions) (*SessionStore, error) {
	var bopts badger.Options
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if strings.TrimSpace(opts.Path) == "" {
			return nil, errors.New("session store: path is required")
		}
		bopts = badger.DefaultOptions(opts.Path)
	}
	bopts = bopts.WithLogger(nil)
	if len(opts.EncryptionKey) > 0 {
		// Badger requires an index cache for encrypted workloads.
		bopts = bopts.WithEncryptionKey(opts.EncryptionKey).WithIndexCacheSize(16 << 20)
	}
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, err
	}
	return &SessionStore{db: db, now: time.Now}, nil
}

func (s *SessionStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save stores the session until the next token expiry.
func (s *SessionStore) Save(sess Session) error {
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = s.now().UTC()
	}
	b, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	ttl := untilExpiry(s.now())
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry([]byte(sessionKey), b).WithTTL(ttl))
	})
}

// Load returns the stored session, or ok=false when there is none or it expired.
func (s *SessionStore) Load() (*Session, bool, error) {
	var sess Session
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(sessionKey))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &sess)
		})
	})
	if err != nil || !found {
		return nil, false, err
	}
	return &sess, true, nil
}

// Clear forgets the session, e.g. after the broker rejected it.
func (s *SessionStore) Clear() error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(sessionKey))
	})
}

// untilExpiry is the time left until midnight US Eastern.
func untilExpiry(now time.Time) time.Duration {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return 24 * time.Hour
	}
	local := now.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, loc)
	d := midnight.Sub(local)
	if d < time.Minute {
		d = time.Minute
	}
	return d
}
