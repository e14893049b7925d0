package profile

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"

	"github.com/jeeves-cluster-organization/groundedrag/coreengine/agents"
	"github.com/jeeves-cluster-organization/groundedrag/coreengine/envelope"
)

// DefaultProfileKey is the key of the single-user profile document.
const DefaultProfileKey = "profile/default"

// BadgerStore keeps the profile document as one value in BadgerDB.
type BadgerStore struct {
	db  *badger.DB
	key []byte
}

// badgerLogger routes badger's internal logs through agents.Logger.
type badgerLogger struct {
	logger agents.Logger
}

func (l badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l badgerLogger) Infof(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// OpenBadgerStore opens a database directory at path. An empty path opens
// an in-memory database.
func OpenBadgerStore(path string, logger agents.Logger) (*BadgerStore, error) {
	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, fmt.Errorf("create badger dir: %w", err)
		}
		opts = badger.DefaultOptions(path).WithSyncWrites(true)
	}
	opts = opts.WithNumVersionsToKeep(1)
	if logger != nil {
		opts = opts.WithLogger(badgerLogger{logger: logger.Bind("component", "badger")})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerStore{db: db, key: []byte(DefaultProfileKey)}, nil
}

// Load implements Store.
func (s *BadgerStore) Load(_ context.Context) (envelope.Profile, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.key)
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return envelope.Profile{}, nil
	}
	if err != nil {
		return envelope.Profile{}, fmt.Errorf("read profile: %w", err)
	}
	return decode(data)
}

// Save implements Store.
func (s *BadgerStore) Save(_ context.Context, p envelope.Profile) error {
	data, err := encode(p)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(s.key, data)
	})
}

// Reset implements Store.
func (s *BadgerStore) Reset(_ context.Context) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(s.key)
	})
}

// Close releases the database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
