package registry

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// solverRow is the gorm-mapped persistence shape for Record: a simple
// single table keyed by (chain id, address).
type solverRow struct {
	ChainID      int64  `gorm:"primaryKey;column:chain_id"`
	Address      string `gorm:"primaryKey;column:address"` // lowercase hex
	Endpoint     string
	Name         string
	RegisteredAt time.Time
	Active       bool
}

func (solverRow) TableName() string { return "solver_registrations" }

func (r solverRow) toRecord() Record {
	return Record{
		ChainID:      r.ChainID,
		Address:      common.HexToAddress(r.Address),
		Endpoint:     r.Endpoint,
		Name:         r.Name,
		RegisteredAt: r.RegisteredAt,
		Active:       r.Active,
	}
}

func fromRecord(r Record) solverRow {
	return solverRow{
		ChainID:      r.ChainID,
		Address:      strings.ToLower(r.Address.Hex()),
		Endpoint:     r.Endpoint,
		Name:         r.Name,
		RegisteredAt: r.RegisteredAt,
		Active:       r.Active,
	}
}

// memoryStore is the in-process fallback when no Postgres DSN is
// configured, mirroring orderstore's memory fallback.
type memoryStore struct {
	mu      sync.RWMutex
	records map[recordKey]Record
}

func NewMemoryStore() Store {
	return &memoryStore{records: make(map[recordKey]Record)}
}

func (s *memoryStore) Upsert(_ context.Context, r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[r.key()] = r
	return nil
}

func (s *memoryStore) Delete(_ context.Context, chainID int64, address common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, Record{ChainID: chainID, Address: address}.key())
	return nil
}

func (s *memoryStore) Get(_ context.Context, chainID int64, address common.Address) (Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[(Record{ChainID: chainID, Address: address}).key()]
	return r, ok, nil
}

func (s *memoryStore) ListByChain(_ context.Context, chainID int64) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, 0)
	for _, r := range s.records {
		if r.ChainID == chainID && r.Active {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *memoryStore) CountByChain(_ context.Context, chainID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, r := range s.records {
		if r.ChainID == chainID {
			n++
		}
	}
	return n, nil
}

// gormStore persists the registry to Postgres.
type gormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) (Store, error) {
	if err := db.AutoMigrate(&solverRow{}); err != nil {
		return nil, err
	}
	return &gormStore{db: db}, nil
}

func (s *gormStore) Upsert(ctx context.Context, r Record) error {
	row := fromRecord(r)
	return s.db.WithContext(ctx).Save(&row).Error
}

func (s *gormStore) Delete(ctx context.Context, chainID int64, address common.Address) error {
	return s.db.WithContext(ctx).
		Where("chain_id = ? AND address = ?", chainID, strings.ToLower(address.Hex())).
		Delete(&solverRow{}).Error
}

func (s *gormStore) Get(ctx context.Context, chainID int64, address common.Address) (Record, bool, error) {
	var row solverRow
	err := s.db.WithContext(ctx).
		Where("chain_id = ? AND address = ?", chainID, strings.ToLower(address.Hex())).
		First(&row).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return Record{}, false, nil
		}
		return Record{}, false, err
	}
	return row.toRecord(), true, nil
}

func (s *gormStore) ListByChain(ctx context.Context, chainID int64) ([]Record, error) {
	var rows []solverRow
	if err := s.db.WithContext(ctx).Where("chain_id = ? AND active = ?", chainID, true).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toRecord())
	}
	return out, nil
}

func (s *gormStore) CountByChain(ctx context.Context, chainID int64) (int, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&solverRow{}).Where("chain_id = ?", chainID).Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// CachedStore wraps a backing Store with a Redis read-through cache for
// ListByChain, the fast endpoint-resolution path the aggregator's fan-out
// hits on every quote request; Get reads the backing store directly.
// Writes always go to the backing store and
// invalidate the chain's cache entry.
type CachedStore struct {
	backing Store
	redis   *redis.Client
	ttl     time.Duration
}

func NewCachedStore(backing Store, client *redis.Client, ttl time.Duration) *CachedStore {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &CachedStore{backing: backing, redis: client, ttl: ttl}
}

func (c *CachedStore) listKey(chainID int64) string {
	return "firmswap:registry:list:" + strconv.FormatInt(chainID, 10)
}

func (c *CachedStore) Upsert(ctx context.Context, r Record) error {
	if err := c.backing.Upsert(ctx, r); err != nil {
		return err
	}
	c.invalidate(ctx, r.ChainID)
	return nil
}

func (c *CachedStore) Delete(ctx context.Context, chainID int64, address common.Address) error {
	if err := c.backing.Delete(ctx, chainID, address); err != nil {
		return err
	}
	c.invalidate(ctx, chainID)
	return nil
}

func (c *CachedStore) Get(ctx context.Context, chainID int64, address common.Address) (Record, bool, error) {
	return c.backing.Get(ctx, chainID, address)
}

func (c *CachedStore) ListByChain(ctx context.Context, chainID int64) ([]Record, error) {
	key := c.listKey(chainID)
	if cached, err := c.redis.Get(ctx, key).Bytes(); err == nil {
		var recs []Record
		if jsonErr := json.Unmarshal(cached, &recs); jsonErr == nil {
			return recs, nil
		}
	}
	recs, err := c.backing.ListByChain(ctx, chainID)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(recs); err == nil {
		c.redis.Set(ctx, key, data, c.ttl)
	}
	return recs, nil
}

func (c *CachedStore) CountByChain(ctx context.Context, chainID int64) (int, error) {
	return c.backing.CountByChain(ctx, chainID)
}

func (c *CachedStore) invalidate(ctx context.Context, chainID int64) {
	c.redis.Del(ctx, c.listKey(chainID))
}
