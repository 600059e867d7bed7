// Package orderstore implements the order store: a mapping from orderId
// to order record with single-writer state transitions. A
// gorm-backed store handles the persisted path; an in-memory map+mutex
// store is the fallback when no DSN is configured.
package orderstore

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/firmswap/firmswap/internal/pkg/apperrors"
	"github.com/firmswap/firmswap/internal/quote"
	"gorm.io/gorm"
)

// State is the order's lifecycle stage.
type State string

const (
	None      State = "NONE"
	Deposited State = "DEPOSITED"
	Settled   State = "SETTLED"
	Refunded  State = "REFUNDED"
)

// Order is the on-chain record instantiated from a quote and signature.
type Order struct {
	OrderID      common.Hash    `gorm:"primaryKey;type:bytea"`
	ChainID      int64          `gorm:"index"`
	State        State          `gorm:"type:text"`
	Solver       common.Address `gorm:"type:bytea;index"`
	User         common.Address `gorm:"type:bytea;index"`
	InputToken   common.Address `gorm:"type:bytea"`
	InputAmount  string         // decimal string; big.Int has no native SQL column type
	OutputToken  common.Address `gorm:"type:bytea"`
	OutputAmount string
	OrderType    quote.OrderType
	FillDeadline int64
}

func (Order) TableName() string { return "orders" }

// FromQuote builds an order record in the given state from a validated quote.
func FromQuote(orderID common.Hash, chainID int64, q *quote.Quote, state State) *Order {
	return &Order{
		OrderID:      orderID,
		ChainID:      chainID,
		State:        state,
		Solver:       q.Solver,
		User:         q.User,
		InputToken:   q.InputToken,
		InputAmount:  q.InputAmount.String(),
		OutputToken:  q.OutputToken,
		OutputAmount: q.OutputAmount.String(),
		OrderType:    q.OrderType,
		FillDeadline: q.FillDeadline,
	}
}

func (o *Order) InputAmountBig() *big.Int {
	n, _ := new(big.Int).SetString(o.InputAmount, 10)
	return n
}

func (o *Order) OutputAmountBig() *big.Int {
	n, _ := new(big.Int).SetString(o.OutputAmount, 10)
	return n
}

// Store is the persistence interface the settlement engine depends on.
// The engine resolves a deposit's balance-difference amount before
// ever calling Create, so the stored record is correct from the moment it
// is written and Store exposes no separate amount-patching method.
type Store interface {
	Get(ctx context.Context, orderID common.Hash) (*Order, error)
	Create(ctx context.Context, order *Order) error
	Transition(ctx context.Context, orderID common.Hash, expectedFrom, to State) error
}

// memoryStore is the in-process fallback used when no Postgres DSN is
// configured.
type memoryStore struct {
	mu     sync.Mutex
	orders map[common.Hash]*Order
}

// NewMemoryStore returns a process-local Store with no persistence.
func NewMemoryStore() Store {
	return &memoryStore{orders: make(map[common.Hash]*Order)}
}

func (s *memoryStore) Get(_ context.Context, orderID common.Hash) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return nil, apperrors.New(apperrors.ErrOrderNotFound, "order not found", nil)
	}
	cp := *o
	return &cp, nil
}

func (s *memoryStore) Create(_ context.Context, order *Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.orders[order.OrderID]; exists {
		return apperrors.New(apperrors.ErrOrderAlreadyExists, "order already exists", nil)
	}
	cp := *order
	s.orders[order.OrderID] = &cp
	return nil
}

func (s *memoryStore) Transition(_ context.Context, orderID common.Hash, expectedFrom, to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return apperrors.New(apperrors.ErrOrderNotFound, "order not found", nil)
	}
	if o.State != expectedFrom {
		return apperrors.New(apperrors.ErrOrderNotDeposited, "order not in expected state", nil)
	}
	o.State = to
	return nil
}

// gormStore persists orders to Postgres via gorm.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore wraps db and ensures the orders table exists.
func NewGormStore(db *gorm.DB) (Store, error) {
	if err := db.AutoMigrate(&Order{}); err != nil {
		return nil, err
	}
	return &gormStore{db: db}, nil
}

func (s *gormStore) Get(ctx context.Context, orderID common.Hash) (*Order, error) {
	var o Order
	err := s.db.WithContext(ctx).Where("order_id = ?", orderID.Bytes()).First(&o).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperrors.New(apperrors.ErrOrderNotFound, "order not found", nil)
		}
		return nil, apperrors.New(apperrors.ErrInternal, "order lookup failed", err)
	}
	return &o, nil
}

func (s *gormStore) Create(ctx context.Context, order *Order) error {
	err := s.db.WithContext(ctx).Create(order).Error
	if err != nil {
		// Unique-violation on the primary key maps to OrderAlreadyExists;
		// gorm surfaces this as a generic error, so any insert failure
		// against an existing primary key is treated as a conflict.
		if _, getErr := s.Get(ctx, order.OrderID); getErr == nil {
			return apperrors.New(apperrors.ErrOrderAlreadyExists, "order already exists", nil)
		}
		return apperrors.New(apperrors.ErrInternal, "order insert failed", err)
	}
	return nil
}

func (s *gormStore) Transition(ctx context.Context, orderID common.Hash, expectedFrom, to State) error {
	tx := s.db.WithContext(ctx).Model(&Order{}).
		Where("order_id = ? AND state = ?", orderID.Bytes(), expectedFrom).
		Update("state", to)
	if tx.Error != nil {
		return apperrors.New(apperrors.ErrInternal, "order transition failed", tx.Error)
	}
	if tx.RowsAffected == 0 {
		return apperrors.New(apperrors.ErrOrderNotDeposited, "order not in expected state", nil)
	}
	return nil
}
