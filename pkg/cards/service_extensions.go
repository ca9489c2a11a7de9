package cards

import (
	"context"
	"fmt"
)

// CreateAccount registers an account administratively.
func (service *Service) CreateAccount(ctx context.Context, input AccountInput) (Account, error) {
	var account Account
	operationError := input.Validate()
	if operationError == nil {
		account, operationError = service.store.CreateAccount(ctx, input)
	}
	service.logOperation(ctx, OperationLog{
		Operation: operationCreateAccount,
		Owner:     account.ID,
		UnitPrice: input.Balance,
		Error:     operationError,
	})
	if operationError != nil {
		return Account{}, operationError
	}
	return account, nil
}

// ListTrades returns the newest journal entries for an account, newest first.
func (service *Service) ListTrades(ctx context.Context, owner AccountID, limit int) ([]Trade, error) {
	normalized, err := normalizeTradeListLimit(limit)
	if err != nil {
		return nil, err
	}
	if _, err := service.store.GetAccount(ctx, owner); err != nil {
		return nil, err
	}
	return service.store.ListTrades(ctx, owner, normalized)
}

// EnsureSeedAccount creates the seed account when the store holds no accounts.
// It reports whether an account was created; a populated store is left untouched.
func EnsureSeedAccount(ctx context.Context, store Store, seed AccountInput) (bool, error) {
	if err := seed.Validate(); err != nil {
		return false, err
	}
	created := false
	err := store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		count, err := transactionStore.CountAccounts(ctx)
		if err != nil {
			return err
		}
		if count > 0 {
			return nil
		}
		if _, err := transactionStore.CreateAccount(ctx, seed); err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return false, WrapError(operationSeedAccount, "account", "create", err)
	}
	return created, nil
}

func normalizeTradeListLimit(limit int) (int, error) {
	if limit <= 0 {
		return defaultTradeListLimit, nil
	}
	if limit > maxTradeListLimit {
		return 0, invalidArgument(fmt.Sprintf("limit exceeds maximum: %d > %d", limit, maxTradeListLimit))
	}
	return limit, nil
}
