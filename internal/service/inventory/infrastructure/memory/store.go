// Package memory 提供进程内的仓储、锁和幂等实现，用于本地运行和测试。
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"stockhub/internal/service/inventory/domain"
)

type txKey struct{}

// Store 保存事务日志、库存和库存流水。
// InTransaction 串行执行事务，fn 返回错误时恢复到事务开始前的快照。
type Store struct {
	txMu sync.Mutex

	mu           sync.Mutex
	nextID       int64
	transactions map[string]domain.TransactionRecord
	inventories  map[domain.GoodsType]map[string]domain.InventoryState
	changes      []domain.InventoryChange
	now          func() time.Time
}

func NewStore() *Store {
	return &Store{
		transactions: make(map[string]domain.TransactionRecord),
		inventories:  make(map[domain.GoodsType]map[string]domain.InventoryState),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

type snapshot struct {
	nextID       int64
	transactions map[string]domain.TransactionRecord
	inventories  map[domain.GoodsType]map[string]domain.InventoryState
	changes      int
}

func (s *Store) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	snap := s.snapshot()
	if err := fn(context.WithValue(ctx, txKey{}, s)); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

func (s *Store) snapshot() snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	txs := make(map[string]domain.TransactionRecord, len(s.transactions))
	for k, v := range s.transactions {
		txs[k] = v
	}
	invs := make(map[domain.GoodsType]map[string]domain.InventoryState, len(s.inventories))
	for t, goods := range s.inventories {
		cp := make(map[string]domain.InventoryState, len(goods))
		for k, v := range goods {
			cp[k] = v
		}
		invs[t] = cp
	}
	return snapshot{nextID: s.nextID, transactions: txs, inventories: invs, changes: len(s.changes)}
}

func (s *Store) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID = snap.nextID
	s.transactions = snap.transactions
	s.inventories = snap.inventories
	s.changes = s.changes[:snap.changes]
}

// Transactions 返回事务日志仓储
func (s *Store) Transactions() domain.TransactionRepository {
	return &transactionRepo{store: s}
}

// Inventory 返回某一商品类型的库存仓储
func (s *Store) Inventory(goodsType domain.GoodsType) domain.InventoryRepository {
	return &inventoryRepo{store: s, goodsType: goodsType}
}

// Changes 返回库存流水的副本
func (s *Store) Changes() []domain.InventoryChange {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.InventoryChange(nil), s.changes...)
}

func transactionKey(bizKey, scene string) string {
	return scene + "\x00" + bizKey
}

type transactionRepo struct {
	store *Store
}

func (r *transactionRepo) Find(_ context.Context, bizKey, scene string) (*domain.TransactionRecord, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	record, ok := r.store.transactions[transactionKey(bizKey, scene)]
	if !ok {
		return nil, errors.Wrapf(domain.ErrTransactionNotFound, "%s/%s", scene, bizKey)
	}
	return &record, nil
}

func (r *transactionRepo) Create(_ context.Context, record *domain.TransactionRecord) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	key := transactionKey(record.BusinessKey, record.Scene)
	if _, exists := r.store.transactions[key]; exists {
		return false, nil
	}
	r.store.nextID++
	record.ID = r.store.nextID
	r.store.transactions[key] = *record
	return true, nil
}

func (r *transactionRepo) CompareAndSwapStates(_ context.Context, id int64, expected, next domain.TransactionStates) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for key, record := range r.store.transactions {
		if record.ID != id {
			continue
		}
		if record.TransactionStates != expected {
			return false, nil
		}
		record.TransactionStates = next
		record.UpdatedAt = r.store.now()
		r.store.transactions[key] = record
		return true, nil
	}
	return false, nil
}

type inventoryRepo struct {
	store     *Store
	goodsType domain.GoodsType
}

func (r *inventoryRepo) Get(_ context.Context, goodsID string) (*domain.InventoryState, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	state, ok := r.store.inventories[r.goodsType][goodsID]
	if !ok {
		return nil, errors.Wrapf(domain.ErrGoodsNotFound, "%s/%s", r.goodsType, goodsID)
	}
	return &state, nil
}

func (r *inventoryRepo) CompareAndSwap(_ context.Context, expectedVersion int64, next *domain.InventoryState, change *domain.InventoryChange) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	current, ok := r.store.inventories[r.goodsType][next.GoodsID]
	if !ok {
		return false, errors.Wrapf(domain.ErrGoodsNotFound, "%s/%s", r.goodsType, next.GoodsID)
	}
	if current.Version != expectedVersion {
		return false, nil
	}
	r.store.inventories[r.goodsType][next.GoodsID] = *next
	if change != nil {
		r.store.changes = append(r.store.changes, *change)
	}
	return true, nil
}

func (r *inventoryRepo) Create(_ context.Context, state *domain.InventoryState) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	goods, ok := r.store.inventories[r.goodsType]
	if !ok {
		goods = make(map[string]domain.InventoryState)
		r.store.inventories[r.goodsType] = goods
	}
	if _, exists := goods[state.GoodsID]; exists {
		return false, nil
	}
	goods[state.GoodsID] = *state
	return true, nil
}
