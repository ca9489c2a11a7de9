package grpcserver

import (
	"fmt"
	"math"

	"github.com/cardledger/cards/pkg/cards"
	"github.com/shopspring/decimal"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	fieldAccountID    = "account_id"
	fieldID           = "id"
	fieldFirstName    = "first_name"
	fieldLastName     = "last_name"
	fieldUserName     = "user_name"
	fieldPassword     = "password"
	fieldBalance      = "balance"
	fieldIsRoot       = "is_root"
	fieldLimit        = "limit"
	fieldVariants     = "variants"
	fieldOwnerID      = "owner_id"
	fieldCardName     = "card_name"
	fieldCardType     = "card_type"
	fieldRarity       = "rarity"
	fieldCount        = "count"
	fieldTrades       = "trades"
	fieldTradeID      = "trade_id"
	fieldKind         = "kind"
	fieldQuantity     = "quantity"
	fieldUnitPrice    = "unit_price"
	fieldTotal        = "total"
	fieldBalanceAfter = "balance_after"
	fieldMetadata     = "metadata_json"
	fieldCreatedUnix  = "created_unix_utc"

	// Integers travel as JSON numbers; beyond 2^53 they lose precision.
	maxExactInteger = 1 << 53
)

func accountInputFromStruct(request *structpb.Struct) (cards.AccountInput, error) {
	fields := request.GetFields()
	input := cards.AccountInput{
		FirstName: fields[fieldFirstName].GetStringValue(),
		LastName:  fields[fieldLastName].GetStringValue(),
		UserName:  fields[fieldUserName].GetStringValue(),
		Password:  fields[fieldPassword].GetStringValue(),
		IsRoot:    fields[fieldIsRoot].GetBoolValue(),
		Balance:   decimal.Zero,
	}
	if raw := fields[fieldBalance].GetStringValue(); raw != "" {
		balance, err := decimal.NewFromString(raw)
		if err != nil {
			return cards.AccountInput{}, fmt.Errorf("balance: %w", err)
		}
		input.Balance = balance
	}
	return input, nil
}

func accountInputToStruct(input cards.AccountInput) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		fieldFirstName: input.FirstName,
		fieldLastName:  input.LastName,
		fieldUserName:  input.UserName,
		fieldPassword:  input.Password,
		fieldBalance:   input.Balance.String(),
		fieldIsRoot:    input.IsRoot,
	})
}

func accountToStruct(account cards.Account) (*structpb.Struct, error) {
	return structpb.NewStruct(accountToMap(account))
}

func accountToMap(account cards.Account) map[string]any {
	return map[string]any{
		fieldID:        account.ID.Int64(),
		fieldFirstName: account.FirstName,
		fieldLastName:  account.LastName,
		fieldUserName:  account.UserName,
		fieldBalance:   account.Balance.StringFixed(2),
		fieldIsRoot:    account.IsRoot,
	}
}

func accountFromStruct(response *structpb.Struct) (cards.Account, error) {
	fields := response.GetFields()
	id, err := integerField(fields, fieldID)
	if err != nil {
		return cards.Account{}, err
	}
	balance, err := decimal.NewFromString(fields[fieldBalance].GetStringValue())
	if err != nil {
		return cards.Account{}, fmt.Errorf("balance: %w", err)
	}
	return cards.Account{
		ID:        cards.AccountID(id),
		FirstName: fields[fieldFirstName].GetStringValue(),
		LastName:  fields[fieldLastName].GetStringValue(),
		UserName:  fields[fieldUserName].GetStringValue(),
		Balance:   balance,
		IsRoot:    fields[fieldIsRoot].GetBoolValue(),
	}, nil
}

func variantsToStruct(variants []cards.Variant) (*structpb.Struct, error) {
	rows := make([]any, 0, len(variants))
	for _, variant := range variants {
		rows = append(rows, map[string]any{
			fieldID:       variant.ID.Int64(),
			fieldOwnerID:  variant.Owner.Int64(),
			fieldCardName: variant.Card.Name,
			fieldCardType: variant.Card.Type,
			fieldRarity:   variant.Card.Rarity,
			fieldCount:    variant.Count,
		})
	}
	return structpb.NewStruct(map[string]any{fieldVariants: rows})
}

func variantsFromStruct(response *structpb.Struct) ([]cards.Variant, error) {
	values := response.GetFields()[fieldVariants].GetListValue().GetValues()
	variants := make([]cards.Variant, 0, len(values))
	for _, value := range values {
		fields := value.GetStructValue().GetFields()
		id, err := integerField(fields, fieldID)
		if err != nil {
			return nil, err
		}
		owner, err := integerField(fields, fieldOwnerID)
		if err != nil {
			return nil, err
		}
		count, err := integerField(fields, fieldCount)
		if err != nil {
			return nil, err
		}
		variants = append(variants, cards.Variant{
			ID:    cards.VariantID(id),
			Owner: cards.AccountID(owner),
			Card: cards.CardKey{
				Name:   fields[fieldCardName].GetStringValue(),
				Type:   fields[fieldCardType].GetStringValue(),
				Rarity: fields[fieldRarity].GetStringValue(),
			},
			Count: count,
		})
	}
	return variants, nil
}

func tradeQueryToStruct(owner cards.AccountID, limit int) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		fieldAccountID: owner.Int64(),
		fieldLimit:     limit,
	})
}

func tradeQueryFromStruct(request *structpb.Struct) (cards.AccountID, int, error) {
	fields := request.GetFields()
	owner, err := integerField(fields, fieldAccountID)
	if err != nil {
		return 0, 0, err
	}
	if owner <= 0 {
		return 0, 0, fmt.Errorf("%s must be positive", fieldAccountID)
	}
	var limit int64
	if _, ok := fields[fieldLimit]; ok {
		if limit, err = integerField(fields, fieldLimit); err != nil {
			return 0, 0, err
		}
	}
	return cards.AccountID(owner), int(limit), nil
}

func tradesToStruct(trades []cards.Trade) (*structpb.Struct, error) {
	rows := make([]any, 0, len(trades))
	for _, trade := range trades {
		rows = append(rows, map[string]any{
			fieldTradeID:      trade.TradeID,
			fieldAccountID:    trade.Owner.Int64(),
			fieldKind:         trade.Kind.String(),
			fieldCardName:     trade.Card.Name,
			fieldCardType:     trade.Card.Type,
			fieldRarity:       trade.Card.Rarity,
			fieldQuantity:     trade.Quantity,
			fieldUnitPrice:    trade.UnitPrice.String(),
			fieldTotal:        trade.Total.String(),
			fieldBalanceAfter: trade.BalanceAfter.String(),
			fieldMetadata:     trade.MetadataJSON,
			fieldCreatedUnix:  trade.CreatedUnixUTC,
		})
	}
	return structpb.NewStruct(map[string]any{fieldTrades: rows})
}

func tradesFromStruct(response *structpb.Struct) ([]cards.Trade, error) {
	values := response.GetFields()[fieldTrades].GetListValue().GetValues()
	trades := make([]cards.Trade, 0, len(values))
	for _, value := range values {
		fields := value.GetStructValue().GetFields()
		owner, err := integerField(fields, fieldAccountID)
		if err != nil {
			return nil, err
		}
		quantity, err := integerField(fields, fieldQuantity)
		if err != nil {
			return nil, err
		}
		created, err := integerField(fields, fieldCreatedUnix)
		if err != nil {
			return nil, err
		}
		kind, err := cards.ParseTradeKind(fields[fieldKind].GetStringValue())
		if err != nil {
			return nil, err
		}
		trade := cards.Trade{
			TradeID:        fields[fieldTradeID].GetStringValue(),
			Owner:          cards.AccountID(owner),
			Kind:           kind,
			Card:           cards.CardKey{Name: fields[fieldCardName].GetStringValue(), Type: fields[fieldCardType].GetStringValue(), Rarity: fields[fieldRarity].GetStringValue()},
			Quantity:       quantity,
			MetadataJSON:   fields[fieldMetadata].GetStringValue(),
			CreatedUnixUTC: created,
		}
		if trade.UnitPrice, err = decimal.NewFromString(fields[fieldUnitPrice].GetStringValue()); err != nil {
			return nil, fmt.Errorf("%s: %w", fieldUnitPrice, err)
		}
		if trade.Total, err = decimal.NewFromString(fields[fieldTotal].GetStringValue()); err != nil {
			return nil, fmt.Errorf("%s: %w", fieldTotal, err)
		}
		if trade.BalanceAfter, err = decimal.NewFromString(fields[fieldBalanceAfter].GetStringValue()); err != nil {
			return nil, fmt.Errorf("%s: %w", fieldBalanceAfter, err)
		}
		trades = append(trades, trade)
	}
	return trades, nil
}

func integerField(fields map[string]*structpb.Value, name string) (int64, error) {
	value, ok := fields[name]
	if !ok {
		return 0, fmt.Errorf("%s is required", name)
	}
	number, ok := value.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, fmt.Errorf("%s must be a number", name)
	}
	if number.NumberValue != math.Trunc(number.NumberValue) || math.Abs(number.NumberValue) > maxExactInteger {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	return int64(number.NumberValue), nil
}
