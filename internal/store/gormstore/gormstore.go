package gormstore

import (
	"context"
	"errors"
	"time"

	"github.com/cardledger/cards/pkg/cards"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultMetadataJSON       = "{}"
	dialectSQLite             = "sqlite"
	pgForeignKeyViolationCode = "23503"
	sqliteConstraintCode      = 19
	errorOperationStore       = "store"
	errorSubjectAccount       = "account"
	errorSubjectCard          = "card"
	errorSubjectTrade         = "trade"
	errorCodeCount            = "count"
	errorCodeCreate           = "create"
	errorCodeDelete           = "delete"
	errorCodeGet              = "get"
	errorCodeInsert           = "insert"
	errorCodeInvalid          = "invalid"
	errorCodeList             = "list"
	errorCodeLookup           = "lookup"
	errorCodeUpdate           = "update"
)

// Store implements cards.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore cards.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

func (store *Store) CountAccounts(ctx context.Context) (int64, error) {
	var count int64
	if err := store.db.WithContext(ctx).Model(&Account{}).Count(&count).Error; err != nil {
		return 0, wrapStoreError(errorSubjectAccount, errorCodeCount, err)
	}
	return count, nil
}

func (store *Store) CreateAccount(ctx context.Context, input cards.AccountInput) (cards.Account, error) {
	model := Account{
		FirstName: input.FirstName,
		LastName:  input.LastName,
		UserName:  input.UserName,
		Password:  input.Password,
		Balance:   input.Balance,
		IsRoot:    input.IsRoot,
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return cards.Account{}, wrapStoreError(errorSubjectAccount, errorCodeCreate, err)
	}
	return mapAccount(model), nil
}

func (store *Store) GetAccount(ctx context.Context, accountID cards.AccountID) (cards.Account, error) {
	return store.getAccount(store.db.WithContext(ctx), accountID)
}

func (store *Store) GetAccountForUpdate(ctx context.Context, accountID cards.AccountID) (cards.Account, error) {
	query := store.db.WithContext(ctx)
	if store.db.Dialector.Name() != dialectSQLite {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return store.getAccount(query, accountID)
}

func (store *Store) getAccount(query *gorm.DB, accountID cards.AccountID) (cards.Account, error) {
	var model Account
	err := query.Where("id = ?", accountID.Int64()).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return cards.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, cards.ErrAccountNotFound)
		}
		return cards.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, err)
	}
	return mapAccount(model), nil
}

func (store *Store) UpdateBalance(ctx context.Context, accountID cards.AccountID, balance decimal.Decimal) error {
	err := store.db.WithContext(ctx).
		Model(&Account{}).
		Where("id = ?", accountID.Int64()).
		Update("balance", balance).Error
	if err != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeUpdate, err)
	}
	return nil
}

func (store *Store) ListInventory(ctx context.Context, accountID cards.AccountID) ([]cards.Variant, error) {
	var rows []Card
	err := store.db.WithContext(ctx).
		Where("owner_id = ?", accountID.Int64()).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectCard, errorCodeList, err)
	}
	return mapVariants(rows), nil
}

func (store *Store) FindVariant(ctx context.Context, accountID cards.AccountID, card cards.CardKey) (cards.Variant, bool, error) {
	var rows []Card
	err := store.db.WithContext(ctx).
		Where("owner_id = ? AND card_name = ? AND card_type = ? AND rarity = ?", accountID.Int64(), card.Name, card.Type, card.Rarity).
		Order("id ASC").
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return cards.Variant{}, false, wrapStoreError(errorSubjectCard, errorCodeLookup, err)
	}
	if len(rows) == 0 {
		return cards.Variant{}, false, nil
	}
	return mapVariant(rows[0]), true, nil
}

func (store *Store) InsertVariant(ctx context.Context, accountID cards.AccountID, card cards.CardKey, count int64) (cards.Variant, error) {
	model := Card{
		CardName: card.Name,
		CardType: card.Type,
		Rarity:   card.Rarity,
		Count:    count,
		OwnerID:  accountID.Int64(),
	}
	err := store.db.WithContext(ctx).Omit(clause.Associations).Create(&model).Error
	if isForeignKeyViolation(err) {
		return cards.Variant{}, wrapStoreError(errorSubjectCard, errorCodeInsert, cards.ErrAccountNotFound)
	}
	if err != nil {
		return cards.Variant{}, wrapStoreError(errorSubjectCard, errorCodeInsert, err)
	}
	return mapVariant(model), nil
}

func (store *Store) ListVariantsByName(ctx context.Context, accountID cards.AccountID, cardName string) ([]cards.Variant, error) {
	var rows []Card
	err := store.db.WithContext(ctx).
		Where("owner_id = ? AND card_name = ?", accountID.Int64(), cardName).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectCard, errorCodeList, err)
	}
	return mapVariants(rows), nil
}

func (store *Store) UpdateVariantCount(ctx context.Context, variantID cards.VariantID, count int64) error {
	if count <= 0 {
		return wrapStoreError(errorSubjectCard, errorCodeInvalid, cards.ErrInvalidArgument)
	}
	err := store.db.WithContext(ctx).
		Model(&Card{}).
		Where("id = ?", variantID.Int64()).
		Update("count", count).Error
	if err != nil {
		return wrapStoreError(errorSubjectCard, errorCodeUpdate, err)
	}
	return nil
}

func (store *Store) DeleteVariant(ctx context.Context, variantID cards.VariantID) error {
	err := store.db.WithContext(ctx).
		Where("id = ?", variantID.Int64()).
		Delete(&Card{}).Error
	if err != nil {
		return wrapStoreError(errorSubjectCard, errorCodeDelete, err)
	}
	return nil
}

func (store *Store) InsertTrade(ctx context.Context, trade cards.Trade) error {
	model := Trade{
		TradeID:      trade.TradeID,
		AccountID:    trade.Owner.Int64(),
		Kind:         trade.Kind.String(),
		CardName:     trade.Card.Name,
		CardType:     trade.Card.Type,
		Rarity:       trade.Card.Rarity,
		Quantity:     trade.Quantity,
		UnitPrice:    trade.UnitPrice,
		Total:        trade.Total,
		BalanceAfter: trade.BalanceAfter,
		Metadata:     datatypesJSON(trade.MetadataJSON),
		CreatedAt:    time.Unix(trade.CreatedUnixUTC, 0).UTC(),
	}
	if trade.CreatedUnixUTC == 0 {
		model.CreatedAt = time.Now().UTC()
	}
	err := store.db.WithContext(ctx).Omit(clause.Associations).Create(&model).Error
	if isForeignKeyViolation(err) {
		return wrapStoreError(errorSubjectTrade, errorCodeInsert, cards.ErrAccountNotFound)
	}
	if err != nil {
		return wrapStoreError(errorSubjectTrade, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) ListTrades(ctx context.Context, accountID cards.AccountID, limit int) ([]cards.Trade, error) {
	var rows []Trade
	err := store.db.WithContext(ctx).
		Where("account_id = ?", accountID.Int64()).
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectTrade, errorCodeList, err)
	}
	trades := make([]cards.Trade, 0, len(rows))
	for _, row := range rows {
		trade, err := mapTrade(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectTrade, errorCodeInvalid, err)
		}
		trades = append(trades, trade)
	}
	return trades, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return cards.WrapError(errorOperationStore, subject, code, err)
}

func mapAccount(model Account) cards.Account {
	return cards.Account{
		ID:        cards.AccountID(model.ID),
		FirstName: model.FirstName,
		LastName:  model.LastName,
		UserName:  model.UserName,
		Balance:   model.Balance,
		IsRoot:    model.IsRoot,
	}
}

func mapVariant(row Card) cards.Variant {
	return cards.Variant{
		ID:    cards.VariantID(row.ID),
		Owner: cards.AccountID(row.OwnerID),
		Card:  cards.CardKey{Name: row.CardName, Type: row.CardType, Rarity: row.Rarity},
		Count: row.Count,
	}
}

func mapVariants(rows []Card) []cards.Variant {
	variants := make([]cards.Variant, 0, len(rows))
	for _, row := range rows {
		variants = append(variants, mapVariant(row))
	}
	return variants
}

func mapTrade(row Trade) (cards.Trade, error) {
	kind, err := cards.ParseTradeKind(row.Kind)
	if err != nil {
		return cards.Trade{}, err
	}
	return cards.Trade{
		TradeID:        row.TradeID,
		Owner:          cards.AccountID(row.AccountID),
		Kind:           kind,
		Card:           cards.CardKey{Name: row.CardName, Type: row.CardType, Rarity: row.Rarity},
		Quantity:       row.Quantity,
		UnitPrice:      row.UnitPrice,
		Total:          row.Total,
		BalanceAfter:   row.BalanceAfter,
		MetadataJSON:   string(row.Metadata),
		CreatedUnixUTC: row.CreatedAt.Unix(),
	}, nil
}

func datatypesJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultMetadataJSON))
	}
	return datatypes.JSON([]byte(raw))
}

func isForeignKeyViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrForeignKeyViolated) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgForeignKeyViolationCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
