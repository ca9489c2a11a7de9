package cards

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// Service implements BUY and SELL as atomic operations over a Store.
// It keeps no state between calls: every operation reads, computes and commits
// inside a single store transaction.
type Service struct {
	store  Store
	nowFn  func() int64
	logger OperationLogger
}

// NewService wires a Service.
func NewService(store Store, now func() int64, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{store: store, nowFn: now}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// Balance returns the account with its balance and display names.
func (service *Service) Balance(ctx context.Context, owner AccountID) (Account, error) {
	return service.store.GetAccount(ctx, owner)
}

// ListInventory returns the owner's variant rows in ascending row id order.
func (service *Service) ListInventory(ctx context.Context, owner AccountID) ([]Variant, error) {
	return service.store.ListInventory(ctx, owner)
}

// Buy deducts UnitPrice*Quantity from the owner's balance and adds Quantity to the
// exact (name, type, rarity) variant, creating the row when absent.
func (service *Service) Buy(ctx context.Context, request BuyRequest) (BuyResult, error) {
	var result BuyResult
	operationError := validateTradeAmounts(request.UnitPrice, request.Quantity)
	if operationError == nil {
		request.Card, operationError = NewCardKey(request.Card.Name, request.Card.Type, request.Card.Rarity)
	}
	if operationError == nil {
		totalCost := request.UnitPrice.Mul(decimal.NewFromInt(request.Quantity))
		operationError = service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
			account, err := transactionStore.GetAccountForUpdate(ctx, request.Owner)
			if err != nil {
				return err
			}
			if account.Balance.LessThan(totalCost) {
				return ErrInsufficientFunds
			}
			newBalance := account.Balance.Sub(totalCost)
			if err := transactionStore.UpdateBalance(ctx, account.ID, newBalance); err != nil {
				return err
			}
			variant, found, err := transactionStore.FindVariant(ctx, account.ID, request.Card)
			if err != nil {
				return err
			}
			if err := ensureNameTotalFits(ctx, transactionStore, account.ID, request.Card.Name, request.Quantity); err != nil {
				return err
			}
			if found {
				variant.Count += request.Quantity
				if err := transactionStore.UpdateVariantCount(ctx, variant.ID, variant.Count); err != nil {
					return err
				}
			} else {
				variant, err = transactionStore.InsertVariant(ctx, account.ID, request.Card, request.Quantity)
				if err != nil {
					return err
				}
			}
			metadata, err := json.Marshal(buyMetadata{VariantID: variant.ID.Int64()})
			if err != nil {
				return err
			}
			if err := transactionStore.InsertTrade(ctx, Trade{
				Owner:          account.ID,
				Kind:           TradeBuy,
				Card:           request.Card,
				Quantity:       request.Quantity,
				UnitPrice:      request.UnitPrice,
				Total:          totalCost,
				BalanceAfter:   newBalance,
				MetadataJSON:   string(metadata),
				CreatedUnixUTC: service.nowFn(),
			}); err != nil {
				return err
			}
			result = BuyResult{Balance: newBalance, VariantCount: variant.Count}
			return nil
		})
	}
	service.logOperation(ctx, OperationLog{
		Operation: operationBuy,
		Owner:     request.Owner,
		Card:      request.Card,
		Quantity:  request.Quantity,
		UnitPrice: request.UnitPrice,
		Error:     operationError,
	})
	if operationError != nil {
		return BuyResult{}, operationError
	}
	return result, nil
}

// Sell removes Quantity units from the owner's rows matching CardName, draining rows in
// ascending id order, and credits UnitPrice*Quantity. Type and rarity are ignored: a
// name may span several variants and a sale draws from all of them. When the rows hold
// fewer than Quantity units in total nothing is modified.
func (service *Service) Sell(ctx context.Context, request SellRequest) (SellResult, error) {
	var result SellResult
	request.CardName = strings.TrimSpace(request.CardName)
	operationError := validateTradeAmounts(request.UnitPrice, request.Quantity)
	if operationError == nil && request.CardName == "" {
		operationError = invalidArgument("card name is required")
	}
	if operationError == nil {
		operationError = service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
			account, err := transactionStore.GetAccountForUpdate(ctx, request.Owner)
			if err != nil {
				return err
			}
			variants, err := transactionStore.ListVariantsByName(ctx, account.ID, request.CardName)
			if err != nil {
				return err
			}
			var held int64
			for _, variant := range variants {
				if variant.Count > math.MaxInt64-held {
					held = math.MaxInt64
					break
				}
				held += variant.Count
			}
			if held < request.Quantity {
				return ErrInsufficientInventory
			}
			needed := request.Quantity
			draws := make([]sellDraw, 0, len(variants))
			for _, variant := range variants {
				if needed == 0 {
					break
				}
				taken := min(variant.Count, needed)
				left := variant.Count - taken
				if left == 0 {
					err = transactionStore.DeleteVariant(ctx, variant.ID)
				} else {
					err = transactionStore.UpdateVariantCount(ctx, variant.ID, left)
				}
				if err != nil {
					return err
				}
				needed -= taken
				draws = append(draws, sellDraw{VariantID: variant.ID.Int64(), Taken: taken})
			}
			proceeds := request.UnitPrice.Mul(decimal.NewFromInt(request.Quantity))
			newBalance := account.Balance.Add(proceeds)
			if err := transactionStore.UpdateBalance(ctx, account.ID, newBalance); err != nil {
				return err
			}
			metadata, err := json.Marshal(sellMetadata{Draws: draws})
			if err != nil {
				return err
			}
			if err := transactionStore.InsertTrade(ctx, Trade{
				Owner:          account.ID,
				Kind:           TradeSell,
				Card:           CardKey{Name: request.CardName},
				Quantity:       request.Quantity,
				UnitPrice:      request.UnitPrice,
				Total:          proceeds,
				BalanceAfter:   newBalance,
				MetadataJSON:   string(metadata),
				CreatedUnixUTC: service.nowFn(),
			}); err != nil {
				return err
			}
			result = SellResult{Balance: newBalance, Remaining: held - request.Quantity}
			return nil
		})
	}
	service.logOperation(ctx, OperationLog{
		Operation: operationSell,
		Owner:     request.Owner,
		Card:      CardKey{Name: request.CardName},
		Quantity:  request.Quantity,
		UnitPrice: request.UnitPrice,
		Error:     operationError,
	})
	if operationError != nil {
		return SellResult{}, operationError
	}
	return result, nil
}

// ensureNameTotalFits rejects a BUY that would push the owner's total for the card
// name past MaxInt64, so SELL can always report the remaining total.
func ensureNameTotalFits(ctx context.Context, store Store, owner AccountID, cardName string, quantity int64) error {
	variants, err := store.ListVariantsByName(ctx, owner, cardName)
	if err != nil {
		return err
	}
	total := quantity
	for _, variant := range variants {
		if variant.Count > math.MaxInt64-total {
			return invalidArgument("card count overflow")
		}
		total += variant.Count
	}
	return nil
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}

func validateTradeAmounts(unitPrice decimal.Decimal, quantity int64) error {
	if quantity <= 0 {
		return invalidArgument("quantity must be positive")
	}
	return ValidateAmount("price", unitPrice)
}

// ValidateAmount checks that amount is non-negative and fits the stored money column:
// at most MoneyScale decimal places and MoneyIntegerDigits integer digits.
// Magnitude is checked from the exponent before any rescaling.
func ValidateAmount(field string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return invalidArgument(field + " must not be negative")
	}
	if amount.IsZero() {
		return nil
	}
	digits := int64(amount.NumDigits())
	exponent := int64(amount.Exponent())
	if digits+exponent > MoneyIntegerDigits {
		return invalidArgument(fmt.Sprintf("%s exceeds %d integer digits", field, MoneyIntegerDigits))
	}
	if exponent < -MoneyScale-digits || !amount.Equal(amount.Round(MoneyScale)) {
		return invalidArgument(fmt.Sprintf("%s has more than %d decimal places", field, MoneyScale))
	}
	return nil
}

type buyMetadata struct {
	VariantID int64 `json:"variant_id"`
}

type sellDraw struct {
	VariantID int64 `json:"variant_id"`
	Taken     int64 `json:"taken"`
}

type sellMetadata struct {
	Draws []sellDraw `json:"draws"`
}
