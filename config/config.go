package config

import (
	"fmt"
	"os"

	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"
)

// LoadGenesisConfig reads and parses the genesis.yml file
func LoadGenesisConfig(path string) (*GenesisConfig, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("could not open genesis file: %w", err)
	}
	defer file.Close()

	var cfgFile ConfigFile
	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(&cfgFile); err != nil {
		return nil, fmt.Errorf("could not decode genesis yaml: %w", err)
	}

	cfg := &cfgFile.Config
	if cfg.InterestRate == 0 {
		cfg.InterestRate = DefaultInterestRate
	}
	if cfg.ExistentialDeposit == "" {
		cfg.ExistentialDeposit = fmt.Sprintf("%d", DefaultExistentialDeposit)
	}
	for _, u := range cfg.Users {
		if u.Username == "" || u.Password == "" {
			return nil, fmt.Errorf("genesis user with empty username or password")
		}
	}
	return cfg, nil
}

type ServerConfig struct {
	RPCAddr     string `ini:"rpc_addr"`
	MetricsAddr string `ini:"metrics_addr"`
}

type StorageConfig struct {
	Backend     string `ini:"backend"` // memory | bolt | postgres
	DataDir     string `ini:"data_dir"`
	PostgresDSN string `ini:"postgres_dsn"`
}

// LoadServerConfig reads the [server] section from an .ini file
func LoadServerConfig(path string) (*ServerConfig, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return nil, err
	}
	serverSection := cfg.Section("server")
	serverCfg := &ServerConfig{}
	err = serverSection.MapTo(serverCfg)
	if err != nil {
		return nil, err
	}
	if serverCfg.RPCAddr == "" {
		serverCfg.RPCAddr = ":8899"
	}
	if serverCfg.MetricsAddr == "" {
		serverCfg.MetricsAddr = ":9100"
	}
	return serverCfg, nil
}

// LoadStorageConfig reads the [storage] section from an .ini file
func LoadStorageConfig(path string) (*StorageConfig, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return nil, err
	}
	storageSection := cfg.Section("storage")
	storageCfg := &StorageConfig{}
	err = storageSection.MapTo(storageCfg)
	if err != nil {
		return nil, err
	}
	if storageCfg.Backend == "" {
		storageCfg.Backend = "memory"
	}
	if storageCfg.DataDir == "" {
		storageCfg.DataDir = "./data"
	}
	return storageCfg, nil
}
