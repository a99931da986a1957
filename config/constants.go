package config

const (
	// DefaultInterestRate is the interest rate in whole percentage points
	// applied when genesis does not set one.
	DefaultInterestRate uint64 = 1

	// DefaultTaxRate is the tax rate the teller front end suggests to
	// auditors; the collect-tax operation always takes an explicit rate.
	DefaultTaxRate uint64 = 2

	// DefaultExistentialDeposit is the minimum balance a funded account
	// must hold, in smallest currency units.
	DefaultExistentialDeposit uint64 = 5

	// EventBufferSize is the channel buffer of one event-bus subscriber.
	EventBufferSize = 50
)
