package cards

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
)

// AccountID identifies a ledger account. Identifiers are assigned by the store.
type AccountID int64

// Int64 returns the raw identifier.
func (id AccountID) Int64() int64 {
	return int64(id)
}

// VariantID identifies one inventory row.
type VariantID int64

// Int64 returns the raw identifier.
func (id VariantID) Int64() int64 {
	return int64(id)
}

// CardKey is the catalog identity of a card variant.
type CardKey struct {
	Name   string
	Type   string
	Rarity string
}

// NewCardKey validates and normalizes a card variant identity.
func NewCardKey(name string, cardType string, rarity string) (CardKey, error) {
	key := CardKey{
		Name:   strings.TrimSpace(name),
		Type:   strings.TrimSpace(cardType),
		Rarity: strings.TrimSpace(rarity),
	}
	if key.Name == "" {
		return CardKey{}, invalidArgument("card name is required")
	}
	if key.Type == "" {
		return CardKey{}, invalidArgument("card type is required")
	}
	if key.Rarity == "" {
		return CardKey{}, invalidArgument("rarity is required")
	}
	return key, nil
}

// Account is a ledger identity holding a cash balance.
type Account struct {
	ID        AccountID
	FirstName string
	LastName  string
	UserName  string
	Balance   decimal.Decimal
	IsRoot    bool
}

// AccountInput describes an account to create.
type AccountInput struct {
	FirstName string
	LastName  string
	UserName  string
	Password  string
	Balance   decimal.Decimal
	IsRoot    bool
}

// Validate normalizes the input and checks required fields.
func (input *AccountInput) Validate() error {
	input.FirstName = strings.TrimSpace(input.FirstName)
	input.LastName = strings.TrimSpace(input.LastName)
	input.UserName = strings.TrimSpace(input.UserName)
	if input.UserName == "" {
		return invalidArgument("user name is required")
	}
	return ValidateAmount("balance", input.Balance)
}

// Variant is one (owner, name, type, rarity) inventory row. A stored variant always has Count > 0.
type Variant struct {
	ID    VariantID
	Owner AccountID
	Card  CardKey
	Count int64
}

// TradeKind distinguishes journal entries.
type TradeKind string

const (
	TradeBuy  TradeKind = "buy"
	TradeSell TradeKind = "sell"
)

// String returns the stored representation.
func (kind TradeKind) String() string {
	return string(kind)
}

// ParseTradeKind validates a stored trade kind.
func ParseTradeKind(raw string) (TradeKind, error) {
	switch TradeKind(raw) {
	case TradeBuy, TradeSell:
		return TradeKind(raw), nil
	default:
		return "", ErrInvalidTradeKind
	}
}

// Trade is an immutable journal record of a committed BUY or SELL.
// Sells carry only the card name; Type and Rarity are empty.
type Trade struct {
	TradeID        string
	Owner          AccountID
	Kind           TradeKind
	Card           CardKey
	Quantity       int64
	UnitPrice      decimal.Decimal
	Total          decimal.Decimal
	BalanceAfter   decimal.Decimal
	MetadataJSON   string
	CreatedUnixUTC int64
}

// BuyRequest purchases Quantity units of an exact card variant.
type BuyRequest struct {
	Owner     AccountID
	Card      CardKey
	UnitPrice decimal.Decimal
	Quantity  int64
}

// BuyResult reports the post-purchase balance and the purchased variant's count.
type BuyResult struct {
	Balance      decimal.Decimal
	VariantCount int64
}

// SellRequest sells Quantity units drawn from every variant sharing CardName.
type SellRequest struct {
	Owner     AccountID
	CardName  string
	UnitPrice decimal.Decimal
	Quantity  int64
}

// SellResult reports the post-sale balance and the units still held under the card name.
type SellResult struct {
	Balance   decimal.Decimal
	Remaining int64
}

// Store is the persistence contract used by Service.
// WithTx runs fn inside one transaction; an error from fn rolls everything back.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	CountAccounts(ctx context.Context) (int64, error)
	CreateAccount(ctx context.Context, input AccountInput) (Account, error)
	GetAccount(ctx context.Context, accountID AccountID) (Account, error)
	GetAccountForUpdate(ctx context.Context, accountID AccountID) (Account, error)
	UpdateBalance(ctx context.Context, accountID AccountID, balance decimal.Decimal) error
	ListInventory(ctx context.Context, accountID AccountID) ([]Variant, error)
	FindVariant(ctx context.Context, accountID AccountID, card CardKey) (Variant, bool, error)
	InsertVariant(ctx context.Context, accountID AccountID, card CardKey, count int64) (Variant, error)
	ListVariantsByName(ctx context.Context, accountID AccountID, cardName string) ([]Variant, error)
	UpdateVariantCount(ctx context.Context, variantID VariantID, count int64) error
	DeleteVariant(ctx context.Context, variantID VariantID) error
	InsertTrade(ctx context.Context, trade Trade) error
	ListTrades(ctx context.Context, accountID AccountID, limit int) ([]Trade, error)
}
