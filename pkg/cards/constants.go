package cards

const (
	operationBuy           = "buy"
	operationSell          = "sell"
	operationCreateAccount = "create_account"
	operationSeedAccount   = "seed_account"

	operationStatusOK    = "ok"
	operationStatusError = "error"

	// DefaultSeedUserName names the account created when a store is first initialized.
	DefaultSeedUserName = "default_user"

	// DefaultInitialBalance is the seed account's starting cash balance.
	DefaultInitialBalance = "100.00"

	// MoneyScale is the number of decimal places stored for balances and prices.
	MoneyScale = 8
	// MoneyIntegerDigits bounds the digits left of the decimal point (decimal(24,8) columns).
	MoneyIntegerDigits = 16

	defaultTradeListLimit = 50
	maxTradeListLimit     = 500
)
