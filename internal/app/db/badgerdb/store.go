// Package badgerdb provides an embedded key-value store.Store on BadgerDB.
//
// Layout: "ident:<id>" holds one identity record, "msg:<seq>" holds one message with a
// zero-padded sequence so lexical key order is append order.
package badgerdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	"relay/internal/app/store"
	"relay/internal/app/user"
	"relay/internal/pkg/logx"
)

const (
	identPrefix = "ident:"
	msgPrefix   = "msg:"
	seqKey      = "seq:msg"
)

// Store persists identities and messages in BadgerDB.
type Store struct {
	db  *badger.DB
	seq *badger.Sequence
}

// identityRecord is the on-disk form of user.Identity; it keeps the secret hash,
// which the JSON form of Identity deliberately omits.
type identityRecord struct {
	ID             string    `json:"id"`
	SecretHash     []byte    `json:"secretHash"`
	Role           user.Role `json:"role"`
	Profile        user.Profile
	MutedUntil     time.Time `json:"mutedUntil"`
	MuteIndefinite bool      `json:"muteIndefinite"`
	Kicked         bool      `json:"kicked"`
	CreatedAt      time.Time `json:"createdAt"`
}

func toRecord(i user.Identity) identityRecord {
	return identityRecord{
		ID:             i.ID,
		SecretHash:     i.SecretHash,
		Role:           i.Role,
		Profile:        i.Profile,
		MutedUntil:     i.Mute.Until,
		MuteIndefinite: i.Mute.Indefinite,
		Kicked:         i.Kicked,
		CreatedAt:      i.CreatedAt,
	}
}

func (r identityRecord) identity() user.Identity {
	return user.Identity{
		ID:         r.ID,
		SecretHash: r.SecretHash,
		Role:       r.Role,
		Profile:    r.Profile,
		Mute:       user.Mute{Until: r.MutedUntil, Indefinite: r.MuteIndefinite},
		Kicked:     r.Kicked,
		CreatedAt:  r.CreatedAt,
	}
}

// badgerLogger routes badger's internal logging into zerolog.
type badgerLogger struct {
	l zerolog.Logger
}

func (b badgerLogger) Errorf(f string, v ...interface{})   { b.l.Error().Msgf(f, v...) }
func (b badgerLogger) Warningf(f string, v ...interface{}) { b.l.Warn().Msgf(f, v...) }
func (b badgerLogger) Infof(f string, v ...interface{})    { b.l.Debug().Msgf(f, v...) }
func (b badgerLogger) Debugf(f string, v ...interface{})   { b.l.Trace().Msgf(f, v...) }

// Open opens the database in dir. An empty dir opens a purely in-memory instance.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir).
		WithLogger(badgerLogger{l: logx.Component("badger")}).
		WithLoggingLevel(badger.WARNING)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	seq, err := db.GetSequence([]byte(seqKey), 128)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("badger sequence: %w", err)
	}

	return &Store{db: db, seq: seq}, nil
}

func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, badger.ErrKeyNotFound), errors.Is(err, store.ErrNotFound):
		return store.ErrNotFound
	case errors.Is(err, store.ErrAlreadyExists):
		return store.ErrAlreadyExists
	default:
		return fmt.Errorf("%w: %s: %v", store.ErrStoreUnavailable, op, err)
	}
}

func identKey(id string) []byte { return []byte(identPrefix + id) }

func msgKey(seq uint64) []byte { return fmt.Appendf(nil, "%s%020d", msgPrefix, seq) }

func getIdentity(txn *badger.Txn, id string) (identityRecord, error) {
	var rec identityRecord
	item, err := txn.Get(identKey(id))
	if err != nil {
		return rec, err
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	})
	return rec, err
}

func putIdentity(txn *badger.Txn, rec identityRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return txn.Set(identKey(rec.ID), data)
}

func (s *Store) FindIdentity(_ context.Context, id string) (user.Identity, error) {
	var rec identityRecord
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		rec, err = getIdentity(txn, id)
		return err
	})
	if err != nil {
		return user.Identity{}, classify("find identity", err)
	}
	return rec.identity(), nil
}

func (s *Store) CreateIdentity(_ context.Context, ident user.Identity) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(identKey(ident.ID)); err == nil {
			return store.ErrAlreadyExists
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return putIdentity(txn, toRecord(ident))
	})
	return classify("create identity", err)
}

func (s *Store) SaveIdentity(_ context.Context, ident user.Identity) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		existing, err := getIdentity(txn, ident.ID)
		if err != nil {
			return err
		}
		rec := toRecord(ident)
		rec.CreatedAt = existing.CreatedAt
		return putIdentity(txn, rec)
	})
	return classify("save identity", err)
}

func (s *Store) RenameIdentity(_ context.Context, oldID, newID string) (int, error) {
	var n int
	err := s.db.Update(func(txn *badger.Txn) error {
		rec, err := getIdentity(txn, oldID)
		if err != nil {
			return err
		}
		if _, err := txn.Get(identKey(newID)); err == nil {
			return store.ErrAlreadyExists
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := txn.Delete(identKey(oldID)); err != nil {
			return err
		}
		rec.ID = newID
		if err := putIdentity(txn, rec); err != nil {
			return err
		}
		n, err = reattribute(txn, oldID, newID, rec.Profile.DisplayImage)
		return err
	})
	if err != nil {
		return 0, classify("rename identity", err)
	}
	return n, nil
}

func (s *Store) DeleteIdentity(_ context.Context, id, tombstoneID string) (int, error) {
	var n int
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(identKey(id)); err != nil {
			return err
		}
		if err := txn.Delete(identKey(id)); err != nil {
			return err
		}
		var err error
		n, err = reattribute(txn, id, tombstoneID, "")
		return err
	})
	if err != nil {
		return 0, classify("delete identity", err)
	}
	return n, nil
}

// reattribute rewrites every message by oldID inside txn.
func reattribute(txn *badger.Txn, oldID, newID, avatar string) (int, error) {
	var hits []keyedMessage
	if err := scanMessagesTxn(txn, false, func(km keyedMessage) bool {
		if km.msg.AuthorID == oldID {
			hits = append(hits, km)
		}
		return true
	}); err != nil {
		return 0, err
	}

	for _, km := range hits {
		km.msg.AuthorID = newID
		km.msg.AuthorAvatar = avatar
		data, err := json.Marshal(km.msg)
		if err != nil {
			return 0, err
		}
		if err := txn.Set(km.key, data); err != nil {
			return 0, err
		}
	}
	return len(hits), nil
}

func (s *Store) CountIdentities(_ context.Context) (int, error) {
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(identPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	if err != nil {
		return 0, classify("count identities", err)
	}
	return n, nil
}

func (s *Store) AppendMessage(_ context.Context, m store.Message) error {
	seq, err := s.seq.Next()
	if err != nil {
		return classify("append message", err)
	}
	data, err := json.Marshal(m)
	if err != nil {
		return classify("append message", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(msgKey(seq), data)
	})
	return classify("append message", err)
}

// keyedMessage pairs a decoded message with its storage key.
type keyedMessage struct {
	key []byte
	msg store.Message
}

// scanMessages visits messages in append order (or reverse) until fn returns false.
func (s *Store) scanMessages(reverse bool, fn func(keyedMessage) bool) error {
	return s.db.View(func(txn *badger.Txn) error {
		return scanMessagesTxn(txn, reverse, fn)
	})
}

func scanMessagesTxn(txn *badger.Txn, reverse bool, fn func(keyedMessage) bool) error {
	opts := badger.DefaultIteratorOptions
	opts.Reverse = reverse
	opts.Prefix = []byte(msgPrefix)
	it := txn.NewIterator(opts)
	defer it.Close()

	start := []byte(msgPrefix)
	if reverse {
		start = append([]byte(msgPrefix), 0xFF)
	}
	for it.Seek(start); it.Valid(); it.Next() {
		item := it.Item()
		var km keyedMessage
		km.key = item.KeyCopy(nil)
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &km.msg)
		}); err != nil {
			return err
		}
		if !fn(km) {
			return nil
		}
	}
	return nil
}

func (s *Store) RecentMessages(_ context.Context, n int) ([]store.Message, error) {
	out := []store.Message{}
	if n <= 0 {
		return out, nil
	}

	err := s.scanMessages(true, func(km keyedMessage) bool {
		out = append(out, km.msg)
		return len(out) < n
	})
	if err != nil {
		return nil, classify("recent messages", err)
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *Store) PurgeMessages(_ context.Context, f store.MessageFilter) (int, error) {
	var keys [][]byte
	err := s.scanMessages(false, func(km keyedMessage) bool {
		if f.Match(km.msg) {
			keys = append(keys, km.key)
		}
		return true
	})
	if err != nil {
		return 0, classify("purge messages", err)
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return 0, classify("purge messages", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, classify("purge messages", err)
	}
	return len(keys), nil
}

// Close releases the sequence lease and closes the database.
func (s *Store) Close() error {
	if err := s.seq.Release(); err != nil {
		logx.Warn("Failed to release badger sequence", "error", err.Error())
	}
	return s.db.Close()
}

var _ store.Store = (*Store)(nil)
