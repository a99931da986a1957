package cmd

import (
	"fmt"

	"bankd/auth"
	"bankd/config"
	"bankd/db"
	"bankd/events"
	"bankd/ledger"
	"bankd/logx"
	"bankd/store"
	"bankd/types"

	"github.com/holiman/uint256"
)

// app bundles the wired-up service graph shared by serve and teller mode.
type app struct {
	serverCfg    *config.ServerConfig
	dbProvider   db.IterableProvider
	accountStore store.AccountStore
	eventStore   *store.EventStore
	eventBus     *events.EventBus
	ledger       *ledger.Ledger
	auth         *auth.Service
}

// buildApp loads configuration, opens the storage backend and wires the
// stores, ledger and auth service together. A previously persisted ledger
// config wins over the genesis values so manager updates survive restarts.
func buildApp(configPath, genesisPath string) (*app, error) {
	serverCfg, err := config.LoadServerConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load server config: %w", err)
	}
	storageCfg, err := config.LoadStorageConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load storage config: %w", err)
	}
	genesis, err := config.LoadGenesisConfig(genesisPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load genesis config: %w", err)
	}

	dbProvider, err := db.NewProvider(storageCfg.Backend, storageCfg.DataDir, storageCfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s storage: %w", storageCfg.Backend, err)
	}

	accountStore, err := store.NewGenericAccountStore(dbProvider)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize account store: %w", err)
	}
	eventStore, err := store.NewEventStore(dbProvider)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize event store: %w", err)
	}
	configStore := store.NewConfigStore(dbProvider)

	ledgerCfg, err := resolveLedgerConfig(configStore, genesis)
	if err != nil {
		return nil, err
	}

	eventBus := events.NewEventBus()
	ledgerSvc := ledger.NewLedger(accountStore, eventStore, configStore, eventBus, ledgerCfg)
	authSvc := auth.NewService(dbProvider, ledgerSvc)

	if err := authSvc.Bootstrap(genesis); err != nil {
		return nil, fmt.Errorf("failed to bootstrap genesis users: %w", err)
	}

	logx.Info("APP", fmt.Sprintf("Ledger up | backend=%s | interest_rate=%d%% | existential_deposit=%s | events=%d",
		storageCfg.Backend, ledgerCfg.InterestRate, ledgerCfg.ExistentialDeposit, eventStore.Size()))

	return &app{
		serverCfg:    serverCfg,
		dbProvider:   dbProvider,
		accountStore: accountStore,
		eventStore:   eventStore,
		eventBus:     eventBus,
		ledger:       ledgerSvc,
		auth:         authSvc,
	}, nil
}

func resolveLedgerConfig(configStore *store.ConfigStore, genesis *config.GenesisConfig) (*types.LedgerConfig, error) {
	persisted, err := configStore.Load()
	if err != nil {
		return nil, err
	}
	if persisted != nil {
		return persisted, nil
	}

	ed := uint256.NewInt(config.DefaultExistentialDeposit)
	if genesis.ExistentialDeposit != "" {
		parsed, parseErr := uint256.FromDecimal(genesis.ExistentialDeposit)
		if parseErr != nil {
			return nil, fmt.Errorf("invalid existential deposit %q in genesis: %w", genesis.ExistentialDeposit, parseErr)
		}
		ed = parsed
	}
	return &types.LedgerConfig{
		InterestRate:       genesis.InterestRate,
		ExistentialDeposit: ed,
	}, nil
}
