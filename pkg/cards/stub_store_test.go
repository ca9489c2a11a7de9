package cards

import (
	"context"
	"sort"
	"testing"

	"github.com/shopspring/decimal"
)

// stubStore is an in-memory Store. WithTx snapshots state and restores it when fn fails.
type stubStore struct {
	accounts      map[AccountID]Account
	variants      map[VariantID]Variant
	trades        []Trade
	nextAccountID AccountID
	nextVariantID VariantID

	getAccountError  error
	updateBalanceErr error
	insertTradeError error
	deleteVariantErr error
	transactions     int
}

func newStubStore(test *testing.T) *stubStore {
	test.Helper()
	return &stubStore{
		accounts:      make(map[AccountID]Account),
		variants:      make(map[VariantID]Variant),
		nextAccountID: 1,
		nextVariantID: 1,
	}
}

func newSeededStubStore(test *testing.T, balance string) *stubStore {
	test.Helper()
	store := newStubStore(test)
	if _, err := store.CreateAccount(context.Background(), AccountInput{UserName: DefaultSeedUserName, Balance: mustDecimal(test, balance), IsRoot: true}); err != nil {
		test.Fatalf("seed account: %v", err)
	}
	return store
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	store.transactions++
	accounts := make(map[AccountID]Account, len(store.accounts))
	for key, value := range store.accounts {
		accounts[key] = value
	}
	variants := make(map[VariantID]Variant, len(store.variants))
	for key, value := range store.variants {
		variants[key] = value
	}
	trades := append([]Trade(nil), store.trades...)
	nextAccountID, nextVariantID := store.nextAccountID, store.nextVariantID
	if err := fn(ctx, store); err != nil {
		store.accounts = accounts
		store.variants = variants
		store.trades = trades
		store.nextAccountID, store.nextVariantID = nextAccountID, nextVariantID
		return err
	}
	return nil
}

func (store *stubStore) CountAccounts(ctx context.Context) (int64, error) {
	return int64(len(store.accounts)), nil
}

func (store *stubStore) CreateAccount(ctx context.Context, input AccountInput) (Account, error) {
	account := Account{
		ID:        store.nextAccountID,
		FirstName: input.FirstName,
		LastName:  input.LastName,
		UserName:  input.UserName,
		Balance:   input.Balance,
		IsRoot:    input.IsRoot,
	}
	store.accounts[account.ID] = account
	store.nextAccountID++
	return account, nil
}

func (store *stubStore) GetAccount(ctx context.Context, accountID AccountID) (Account, error) {
	if store.getAccountError != nil {
		return Account{}, store.getAccountError
	}
	account, ok := store.accounts[accountID]
	if !ok {
		return Account{}, WrapError("store", "account", "get", ErrAccountNotFound)
	}
	return account, nil
}

func (store *stubStore) GetAccountForUpdate(ctx context.Context, accountID AccountID) (Account, error) {
	return store.GetAccount(ctx, accountID)
}

func (store *stubStore) UpdateBalance(ctx context.Context, accountID AccountID, balance decimal.Decimal) error {
	if store.updateBalanceErr != nil {
		return store.updateBalanceErr
	}
	account := store.accounts[accountID]
	account.Balance = balance
	store.accounts[accountID] = account
	return nil
}

func (store *stubStore) sortedVariants(match func(Variant) bool) []Variant {
	variants := make([]Variant, 0)
	for _, variant := range store.variants {
		if match(variant) {
			variants = append(variants, variant)
		}
	}
	sort.Slice(variants, func(left, right int) bool { return variants[left].ID < variants[right].ID })
	return variants
}

func (store *stubStore) ListInventory(ctx context.Context, accountID AccountID) ([]Variant, error) {
	return store.sortedVariants(func(variant Variant) bool { return variant.Owner == accountID }), nil
}

func (store *stubStore) FindVariant(ctx context.Context, accountID AccountID, card CardKey) (Variant, bool, error) {
	matches := store.sortedVariants(func(variant Variant) bool { return variant.Owner == accountID && variant.Card == card })
	if len(matches) == 0 {
		return Variant{}, false, nil
	}
	return matches[0], true, nil
}

func (store *stubStore) InsertVariant(ctx context.Context, accountID AccountID, card CardKey, count int64) (Variant, error) {
	variant := Variant{ID: store.nextVariantID, Owner: accountID, Card: card, Count: count}
	store.variants[variant.ID] = variant
	store.nextVariantID++
	return variant, nil
}

func (store *stubStore) ListVariantsByName(ctx context.Context, accountID AccountID, cardName string) ([]Variant, error) {
	return store.sortedVariants(func(variant Variant) bool { return variant.Owner == accountID && variant.Card.Name == cardName }), nil
}

func (store *stubStore) UpdateVariantCount(ctx context.Context, variantID VariantID, count int64) error {
	variant := store.variants[variantID]
	variant.Count = count
	store.variants[variantID] = variant
	return nil
}

func (store *stubStore) DeleteVariant(ctx context.Context, variantID VariantID) error {
	if store.deleteVariantErr != nil {
		return store.deleteVariantErr
	}
	delete(store.variants, variantID)
	return nil
}

func (store *stubStore) InsertTrade(ctx context.Context, trade Trade) error {
	if store.insertTradeError != nil {
		return store.insertTradeError
	}
	store.trades = append(store.trades, trade)
	return nil
}

func (store *stubStore) ListTrades(ctx context.Context, accountID AccountID, limit int) ([]Trade, error) {
	trades := make([]Trade, 0, limit)
	for index := len(store.trades) - 1; index >= 0 && len(trades) < limit; index-- {
		if store.trades[index].Owner == accountID {
			trades = append(trades, store.trades[index])
		}
	}
	return trades, nil
}

func mustNewService(test *testing.T, store Store, options ...ServiceOption) *Service {
	test.Helper()
	service, err := NewService(store, func() int64 { return 100 }, options...)
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	return service
}

func mustDecimal(test *testing.T, raw string) decimal.Decimal {
	test.Helper()
	value, err := decimal.NewFromString(raw)
	if err != nil {
		test.Fatalf("decimal %q: %v", raw, err)
	}
	return value
}

func mustCardKey(test *testing.T, name string, cardType string, rarity string) CardKey {
	test.Helper()
	key, err := NewCardKey(name, cardType, rarity)
	if err != nil {
		test.Fatalf("card key: %v", err)
	}
	return key
}
