package store

// Declare database key prefix for objects
const (
	PrefixAccount    = "account:"
	PrefixEvent      = "event:"
	PrefixCredential = "cred:"

	PrefixMeta           = "meta:"
	MetaKeyNextAccountID = "meta:next_account_id"
	MetaKeyLedgerConfig  = "meta:ledger_config"
)
