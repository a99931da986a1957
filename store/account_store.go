package store

import (
	"encoding/binary"
	"fmt"
	"sort"
	"sync"

	"bankd/db"
	"bankd/jsonx"
	"bankd/logx"
	"bankd/types"

	"github.com/holiman/uint256"
)

// AccountStore holds the account records. SetBalance / SetBalanceBatch are
// the only balance mutators and are invoked exclusively by the ledger
// engine, which is responsible for the existential-deposit invariant.
type AccountStore interface {
	Create(owner string, role types.Role) (*types.Account, error)
	// Get returns the account with the given id, or (nil, nil) if it does
	// not exist.
	Get(id uint64) (*types.Account, error)
	OwnerOf(id uint64) (string, error)
	SetBalance(id uint64, balance *uint256.Int) error
	// SetBalanceBatch applies all balance updates in a single provider
	// batch. A nil balance clears the entry (reap).
	SetBalanceBatch(updates map[uint64]*uint256.Int) error
	// GetAll returns every account ordered by id ascending.
	GetAll() ([]*types.Account, error)
	MustClose()
}

type GenericAccountStore struct {
	mu         sync.RWMutex
	dbProvider db.IterableProvider
	nextID     uint64
}

func NewGenericAccountStore(dbProvider db.IterableProvider) (*GenericAccountStore, error) {
	if dbProvider == nil {
		return nil, fmt.Errorf("provider cannot be nil")
	}

	as := &GenericAccountStore{dbProvider: dbProvider}
	if err := as.loadNextID(); err != nil {
		return nil, err
	}
	return as, nil
}

func (as *GenericAccountStore) loadNextID() error {
	data, err := as.dbProvider.Get([]byte(MetaKeyNextAccountID))
	if err != nil {
		return fmt.Errorf("could not load account id counter: %w", err)
	}
	if len(data) == 8 {
		as.nextID = binary.BigEndian.Uint64(data)
	}
	return nil
}

// Create assigns the next id and stores a fresh, unfunded account record.
// Ids are never reused, even across restarts.
func (as *GenericAccountStore) Create(owner string, role types.Role) (*types.Account, error) {
	as.mu.Lock()
	defer as.mu.Unlock()

	as.nextID++
	account := &types.Account{
		ID:    as.nextID,
		Owner: owner,
		Role:  role,
	}

	accountData, err := jsonx.Marshal(account)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal account: %w", err)
	}

	counter := make([]byte, 8)
	binary.BigEndian.PutUint64(counter, as.nextID)

	batch := as.dbProvider.Batch()
	defer batch.Close()
	batch.Put(as.getDbKey(account.ID), accountData)
	batch.Put([]byte(MetaKeyNextAccountID), counter)
	if err := batch.Write(); err != nil {
		return nil, fmt.Errorf("failed to write account to db: %w", err)
	}

	return account, nil
}

// Get returns the account with the given id, return both nil if not exist
func (as *GenericAccountStore) Get(id uint64) (*types.Account, error) {
	as.mu.RLock()
	defer as.mu.RUnlock()

	return as.getWithoutLocking(id)
}

func (as *GenericAccountStore) getWithoutLocking(id uint64) (*types.Account, error) {
	data, err := as.dbProvider.Get(as.getDbKey(id))
	if err != nil {
		return nil, fmt.Errorf("could not get account %d from db: %w", id, err)
	}
	if data == nil {
		return nil, nil
	}

	var acc types.Account
	if err := jsonx.Unmarshal(data, &acc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal account %d: %w", id, err)
	}
	return &acc, nil
}

func (as *GenericAccountStore) OwnerOf(id uint64) (string, error) {
	acc, err := as.Get(id)
	if err != nil {
		return "", err
	}
	if acc == nil {
		return "", fmt.Errorf("account %d does not exist", id)
	}
	return acc.Owner, nil
}

func (as *GenericAccountStore) SetBalance(id uint64, balance *uint256.Int) error {
	return as.SetBalanceBatch(map[uint64]*uint256.Int{id: balance})
}

func (as *GenericAccountStore) SetBalanceBatch(updates map[uint64]*uint256.Int) error {
	as.mu.Lock()
	defer as.mu.Unlock()

	batch := as.dbProvider.Batch()
	defer batch.Close()

	for id, balance := range updates {
		acc, err := as.getWithoutLocking(id)
		if err != nil {
			return err
		}
		if acc == nil {
			return fmt.Errorf("account %d does not exist", id)
		}
		acc.Balance = balance

		accountData, err := jsonx.Marshal(acc)
		if err != nil {
			return fmt.Errorf("failed to marshal account: %w", err)
		}
		batch.Put(as.getDbKey(id), accountData)
	}

	if err := batch.Write(); err != nil {
		return fmt.Errorf("failed to write batch of accounts to database: %w", err)
	}
	return nil
}

func (as *GenericAccountStore) GetAll() ([]*types.Account, error) {
	as.mu.RLock()
	defer as.mu.RUnlock()

	accounts := make([]*types.Account, 0)
	err := as.dbProvider.IteratePrefix([]byte(PrefixAccount), func(key, value []byte) bool {
		var acc types.Account
		if err := jsonx.Unmarshal(value, &acc); err != nil {
			logx.Warn("ACCOUNT_STORE", "Skipping undecodable account record: ", err.Error())
			return true
		}
		accounts = append(accounts, &acc)
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to iterate accounts: %w", err)
	}

	sort.Slice(accounts, func(i, j int) bool { return accounts[i].ID < accounts[j].ID })
	return accounts, nil
}

func (as *GenericAccountStore) MustClose() {
	err := as.dbProvider.Close()
	if err != nil {
		logx.Error("ACCOUNT_STORE", "Failed to close db provider:", err.Error())
	}
}

func (as *GenericAccountStore) getDbKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", PrefixAccount, id))
}
