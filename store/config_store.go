package store

import (
	"fmt"

	"bankd/db"
	"bankd/jsonx"
	"bankd/types"
)

// ConfigStore persists the process-wide ledger config under a meta key so
// a restart keeps manager updates.
type ConfigStore struct {
	dbProvider db.DatabaseProvider
}

func NewConfigStore(dbProvider db.DatabaseProvider) *ConfigStore {
	return &ConfigStore{dbProvider: dbProvider}
}

// Load returns the persisted config, or (nil, nil) if none was saved yet.
func (cs *ConfigStore) Load() (*types.LedgerConfig, error) {
	data, err := cs.dbProvider.Get([]byte(MetaKeyLedgerConfig))
	if err != nil {
		return nil, fmt.Errorf("could not load ledger config: %w", err)
	}
	if data == nil {
		return nil, nil
	}
	var cfg types.LedgerConfig
	if err := jsonx.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ledger config: %w", err)
	}
	return &cfg, nil
}

func (cs *ConfigStore) Save(cfg *types.LedgerConfig) error {
	data, err := jsonx.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal ledger config: %w", err)
	}
	if err := cs.dbProvider.Put([]byte(MetaKeyLedgerConfig), data); err != nil {
		return fmt.Errorf("could not persist ledger config: %w", err)
	}
	return nil
}
