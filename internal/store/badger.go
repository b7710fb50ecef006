package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v3"

	"github.com/rendis/waypoint/internal/xjson"
	"github.com/rendis/waypoint/pkg/schema"
)

const (
	instancePrefix   = "instance/"
	definitionPrefix = "definition/"
	eventPrefix      = "event/"
	secretPrefix     = "secret/"
	eventIDKey       = "meta/event_id"

	maxConflictRetries = 5
)

// BadgerStore implements Store on an embedded BadgerDB key/value store.
type BadgerStore struct {
	db  *badger.DB
	ids *badger.Sequence
	dir string
}

// NewBadgerStore opens (or creates) a BadgerDB at dir. An empty dir opens an
// in-memory database.
func NewBadgerStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	} else {
		opts = opts.WithSyncWrites(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", dir, err)
	}
	ids, err := db.GetSequence([]byte(eventIDKey), 100)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("event id sequence: %w", err)
	}
	return &BadgerStore{db: db, ids: ids, dir: dir}, nil
}

func (s *BadgerStore) Close() error {
	if err := s.ids.Release(); err != nil {
		_ = s.db.Close()
		return err
	}
	return s.db.Close()
}

// Migrate is a no-op; the key layout carries no schema.
func (s *BadgerStore) Migrate(context.Context) error { return nil }

// --- Instances ---

func (s *BadgerStore) SaveInstance(ctx context.Context, state *schema.InstanceState) error {
	if state == nil || state.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "instance id is required")
	}
	data, err := xjson.Marshal(state)
	if err != nil {
		return storeError("marshal instance", err)
	}
	return s.update(ctx, func(txn *badger.Txn) error {
		return txn.Set([]byte(instancePrefix+state.ID), data)
	})
}

func (s *BadgerStore) GetInstance(ctx context.Context, id string) (*schema.InstanceState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var st *schema.InstanceState
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(instancePrefix + id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			st, err = decodeInstance(val)
			return err
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, storeNotFound("instance", id)
	}
	return st, err
}

func (s *BadgerStore) ListInstances(ctx context.Context, filter InstanceFilter) ([]*schema.InstanceState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []*schema.InstanceState
	err := s.scan(instancePrefix, func(val []byte) error {
		st, err := decodeInstance(val)
		if err != nil {
			return err
		}
		if filter.matches(st) {
			out = append(out, st)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortInstances(out)
	return page(out, filter.Offset, filter.Limit), nil
}

func (s *BadgerStore) DeleteInstance(ctx context.Context, id string) error {
	key := []byte(instancePrefix + id)
	return s.update(ctx, func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return storeNotFound("instance", id)
			}
			return err
		}
		if err := txn.Delete(key); err != nil {
			return err
		}
		return deletePrefix(txn, eventPrefix+id+"/")
	})
}

func (s *BadgerStore) ListBookmarks(ctx context.Context) ([]schema.Bookmark, error) {
	instances, err := s.ListInstances(ctx, InstanceFilter{})
	if err != nil {
		return nil, err
	}
	return collectBookmarks(instances), nil
}

// --- Definitions ---

func definitionKey(id string, version int) []byte {
	return []byte(fmt.Sprintf("%s%s/%010d", definitionPrefix, id, version))
}

func (s *BadgerStore) SaveDefinition(ctx context.Context, def *schema.WorkflowDefinition) error {
	if def == nil || def.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "definition id is required")
	}
	data, err := xjson.Marshal(def)
	if err != nil {
		return storeError("marshal definition", err)
	}
	return s.update(ctx, func(txn *badger.Txn) error {
		return txn.Set(definitionKey(def.ID, def.Version), data)
	})
}

func (s *BadgerStore) GetDefinition(ctx context.Context, id string, version int) (*schema.WorkflowDefinition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		if version != 0 {
			item, err := txn.Get(definitionKey(id, version))
			if err != nil {
				return err
			}
			data, err = item.ValueCopy(nil)
			return err
		}
		var err error
		data, err = lastValue(txn, definitionPrefix+id+"/")
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, storeNotFound("definition", id)
	}
	if err != nil {
		return nil, err
	}
	def := &schema.WorkflowDefinition{}
	if err := xjson.Unmarshal(data, def); err != nil {
		return nil, storeError("unmarshal definition", err)
	}
	return def, nil
}

func (s *BadgerStore) ListDefinitions(ctx context.Context) ([]*schema.WorkflowDefinition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	latest := make(map[string]*schema.WorkflowDefinition)
	err := s.scan(definitionPrefix, func(val []byte) error {
		def := &schema.WorkflowDefinition{}
		if err := xjson.Unmarshal(val, def); err != nil {
			return storeError("unmarshal definition", err)
		}
		// Keys sort by version, so later entries win.
		latest[def.ID] = def
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]*schema.WorkflowDefinition, 0, len(latest))
	for _, def := range latest {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// --- Events ---

func eventKey(instanceID string, seq int64) []byte {
	return []byte(fmt.Sprintf("%s%s/%020d", eventPrefix, instanceID, seq))
}

func (s *BadgerStore) AppendEvent(ctx context.Context, event *Event) error {
	id, err := s.ids.Next()
	if err != nil {
		return storeError("next event id", err)
	}
	event.ID = int64(id) + 1
	event.Timestamp = timeOrNow(event.Timestamp)

	return s.update(ctx, func(txn *badger.Txn) error {
		var seq int64 = 1
		last, err := lastValue(txn, eventPrefix+event.InstanceID+"/")
		switch {
		case err == nil:
			var prev Event
			if err := xjson.Unmarshal(last, &prev); err != nil {
				return storeError("unmarshal event", err)
			}
			seq = prev.Sequence + 1
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}
		event.Sequence = seq
		data, err := xjson.Marshal(event)
		if err != nil {
			return storeError("marshal event", err)
		}
		return txn.Set(eventKey(event.InstanceID, seq), data)
	})
}

func (s *BadgerStore) GetEvents(ctx context.Context, instanceID string, since int64) ([]*Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []*Event
	err := s.scan(eventPrefix+instanceID+"/", func(val []byte) error {
		e := &Event{}
		if err := xjson.Unmarshal(val, e); err != nil {
			return storeError("unmarshal event", err)
		}
		if e.Sequence > since {
			out = append(out, e)
		}
		return nil
	})
	return out, err
}

// --- helpers ---

// update runs fn in a read-write transaction, retrying on write conflicts.
func (s *BadgerStore) StoreSecret(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return schema.NewError(schema.ErrCodeValidation, "secret key is required")
	}
	return s.update(ctx, func(txn *badger.Txn) error {
		return txn.Set([]byte(secretPrefix+key), value)
	})
}

func (s *BadgerStore) GetSecret(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(secretPrefix + key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, storeNotFound("secret", key)
	}
	return value, err
}

func (s *BadgerStore) DeleteSecret(ctx context.Context, key string) error {
	k := []byte(secretPrefix + key)
	return s.update(ctx, func(txn *badger.Txn) error {
		if _, err := txn.Get(k); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return storeNotFound("secret", key)
			}
			return err
		}
		return txn.Delete(k)
	})
}

func (s *BadgerStore) ListSecrets(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	keys := []string{}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(secretPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, string(it.Item().Key()[len(secretPrefix):]))
		}
		return nil
	})
	return keys, err
}

func (s *BadgerStore) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		time.Sleep(time.Duration(attempt+1) * time.Millisecond)
	}
	return storeError("badger update", err)
}

func (s *BadgerStore) scan(prefix string, fn func(val []byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := it.Item().Value(fn); err != nil {
				return err
			}
		}
		return nil
	})
}

// lastValue returns a copy of the value with the greatest key under prefix.
func lastValue(txn *badger.Txn, prefix string) ([]byte, error) {
	opts := badger.DefaultIteratorOptions
	opts.Reverse = true
	opts.Prefix = []byte(prefix)
	it := txn.NewIterator(opts)
	defer it.Close()
	it.Seek([]byte(prefix + "\xff"))
	if !it.ValidForPrefix([]byte(prefix)) {
		return nil, badger.ErrKeyNotFound
	}
	return it.Item().ValueCopy(nil)
}

func deletePrefix(txn *badger.Txn, prefix string) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = []byte(prefix)
	it := txn.NewIterator(opts)
	var keys [][]byte
	for it.Rewind(); it.Valid(); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	it.Close()
	for _, k := range keys {
		if err := txn.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// String identifies the backing database for logs.
func (s *BadgerStore) String() string {
	if s.dir == "" {
		return "badger(memory)"
	}
	return "badger(" + s.dir + ")"
}

var _ Store = (*BadgerStore)(nil)
