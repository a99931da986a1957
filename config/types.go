package config

// SeedUser is one pre-provisioned user from genesis.yml. OpeningBalance is
// a decimal string in smallest currency units; "0" or empty means the
// account starts reaped.
type SeedUser struct {
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	Role           string `yaml:"role"`
	OpeningBalance string `yaml:"opening_balance"`
}

// GenesisConfig holds the configuration from genesis.yml
type GenesisConfig struct {
	InterestRate       uint64     `yaml:"interest_rate"`
	ExistentialDeposit string     `yaml:"existential_deposit"`
	Users              []SeedUser `yaml:"users"`
}

// ConfigFile is the top-level structure for genesis.yml
type ConfigFile struct {
	Config GenesisConfig `yaml:"config"`
}
