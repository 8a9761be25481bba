package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/hubenschmidt/station-notify/internal/bus"
	"github.com/hubenschmidt/station-notify/internal/metrics"
)

// StoreType represents the type of session store.
type StoreType string

const (
	StoreTypeMemory   StoreType = "memory"
	StoreTypeRedis    StoreType = "redis"
	StoreTypeSQLite   StoreType = "sqlite"
	StoreTypePostgres StoreType = "postgres"
)

// backend persists the raw slot value. load returns nil when empty.
type backend interface {
	load(ctx context.Context) ([]byte, error)
	save(ctx context.Context, val []byte) error
	remove(ctx context.Context) error
	close() error
}

// NewStore creates a Store of the given type. Without WithBus the store
// gets a private memory bus, so Watch only works across instances that are
// given the same bus.
func NewStore(storeType StoreType, opts ...StoreOption) (Store, error) {
	cfg := &storeConfig{slot: DefaultSlot}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.bus == nil {
		cfg.bus = bus.NewMemory()
	}

	var be backend
	switch storeType {
	case StoreTypeMemory:
		slots := cfg.slots
		if slots == nil {
			slots = NewSlots()
		}
		be = &memoryBackend{slots: slots, slot: cfg.slot}

	case StoreTypeRedis:
		if cfg.redisClient == nil {
			return nil, ErrInvalidConfig
		}
		be = &redisBackend{client: cfg.redisClient, key: "session:" + cfg.slot, ttl: cfg.redisTTL}

	case StoreTypeSQLite:
		sb, err := cfg.sqlBackend(sqliteDialect, "sqlite", sqliteDSN(cfg.dbPath))
		if err != nil {
			return nil, err
		}
		be = sb

	case StoreTypePostgres:
		sb, err := cfg.sqlBackend(postgresDialect, "pgx", cfg.dsn)
		if err != nil {
			return nil, err
		}
		be = sb

	default:
		return nil, ErrInvalidStoreType
	}

	return &store{
		id:    uuid.NewString(),
		topic: "session:" + cfg.slot,
		be:    be,
		bus:   cfg.bus,
	}, nil
}

// store layers change notification over a backend.
type store struct {
	id    string
	topic string
	be    backend
	bus   bus.Bus
}

func (s *store) ID() string { return s.id }

func (s *store) Write(ctx context.Context, rec *Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	val, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal session record: %w", err)
	}
	if err := s.be.save(ctx, val); err != nil {
		return fmt.Errorf("save session record: %w", err)
	}
	metrics.SessionChanges.WithLabelValues("write").Inc()
	s.notify(ctx, Change{Record: rec, Origin: s.id})
	return nil
}

func (s *store) Clear(ctx context.Context) error {
	if err := s.be.remove(ctx); err != nil {
		return fmt.Errorf("clear session record: %w", err)
	}
	metrics.SessionChanges.WithLabelValues("clear").Inc()
	s.notify(ctx, Change{Origin: s.id})
	return nil
}

func (s *store) Read(ctx context.Context) (*Record, error) {
	val, err := s.be.load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load session record: %w", err)
	}
	if val == nil {
		return nil, nil
	}
	var rec Record
	if err := json.Unmarshal(val, &rec); err != nil {
		return nil, fmt.Errorf("decode session record: %w", err)
	}
	return &rec, nil
}

func (s *store) Watch(ctx context.Context, fn func(Change)) (func(), error) {
	sub, err := s.bus.Subscribe(ctx, s.topic, func(payload []byte) {
		var c Change
		if err := json.Unmarshal(payload, &c); err != nil {
			slog.Warn("session change decode", "error", err)
			return
		}
		if c.Origin == s.id {
			return
		}
		fn(c)
	})
	if err != nil {
		return nil, fmt.Errorf("watch session slot: %w", err)
	}
	return func() { sub.Close() }, nil
}

func (s *store) Close() error {
	return s.be.close()
}

// notify is best effort: the slot is already written, so a bus failure
// only delays other instances until their next Read.
func (s *store) notify(ctx context.Context, c Change) {
	payload, err := json.Marshal(c)
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, s.topic, payload); err != nil {
		slog.Warn("session change publish", "error", err)
	}
}

func sqliteDSN(path string) string {
	if path == "" {
		return ""
	}
	return "file:" + path + "?_pragma=busy_timeout(5000)"
}

// sqlBackend uses the caller's database when given one, otherwise opens
// (and owns) a connection to dsn.
func (c *storeConfig) sqlBackend(d dialect, driver, dsn string) (*sqlBackend, error) {
	db := c.db
	owned := false
	if db == nil {
		if dsn == "" {
			return nil, ErrInvalidConfig
		}
		var err error
		if db, err = openSQL(driver, dsn); err != nil {
			return nil, err
		}
		owned = true
	}
	sb, err := newSQLBackend(context.Background(), db, d, c.slot, owned)
	if err != nil {
		if owned {
			db.Close()
		}
		return nil, err
	}
	return sb, nil
}
