package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/cardledger/cards/pkg/cards"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const (
	pgForeignKeyViolationCode = "23503"
	errorOperationStore       = "store"
	errorSubjectAccount       = "account"
	errorSubjectCard          = "card"
	errorSubjectTrade         = "trade"
	errorSubjectTransaction   = "transaction"
	errorSubjectSchema        = "schema"
	errorCodeBegin            = "begin"
	errorCodeCommit           = "commit"
	errorCodeCount            = "count"
	errorCodeCreate           = "create"
	errorCodeDelete           = "delete"
	errorCodeGet              = "get"
	errorCodeInsert           = "insert"
	errorCodeInvalid          = "invalid"
	errorCodeList             = "list"
	errorCodeLookup           = "lookup"
	errorCodeMigrate          = "migrate"
	errorCodeUpdate           = "update"

	sqlCountAccounts = `select count(*) from accounts`

	sqlInsertAccount = `
		insert into accounts(first_name, last_name, user_name, password, balance, is_root)
		values ($1, $2, $3, $4, $5::text::numeric, $6)
		returning id
	`

	sqlSelectAccount = `
		select id, first_name, last_name, user_name, balance::text, is_root
		from accounts
		where id = $1
	`

	sqlSelectAccountForUpdate = sqlSelectAccount + ` for update`

	sqlUpdateBalance = `update accounts set balance = $2::text::numeric where id = $1`

	sqlListInventory = `
		select id, owner_id, card_name, card_type, rarity, count
		from cards
		where owner_id = $1
		order by id asc
	`

	sqlFindVariant = `
		select id, owner_id, card_name, card_type, rarity, count
		from cards
		where owner_id = $1 and card_name = $2 and card_type = $3 and rarity = $4
		order by id asc
		limit 1
	`

	sqlInsertVariant = `
		insert into cards(card_name, card_type, rarity, count, owner_id)
		values ($1, $2, $3, $4, $5)
		returning id
	`

	sqlListVariantsByName = `
		select id, owner_id, card_name, card_type, rarity, count
		from cards
		where owner_id = $1 and card_name = $2
		order by id asc
	`

	sqlUpdateVariantCount = `update cards set count = $2 where id = $1`

	sqlDeleteVariant = `delete from cards where id = $1`

	sqlInsertTrade = `
		insert into trades(
			trade_id, account_id, kind, card_name, card_type, rarity, quantity,
			unit_price, total, balance_after, metadata, created_at
		)
		values (
			$1::text::uuid, $2, $3, $4, $5, $6, $7,
			$8::text::numeric, $9::text::numeric, $10::text::numeric,
			coalesce(nullif($11,''),'{}')::jsonb,
			to_timestamp($12)
		)
	`

	sqlListTrades = `
		select
			trade_id::text,
			account_id,
			kind,
			card_name,
			card_type,
			rarity,
			quantity,
			unit_price::text,
			total::text,
			balance_after::text,
			metadata::text,
			extract(epoch from created_at)::bigint
		from trades
		where account_id = $1
		order by id desc
		limit $2
	`
)

var schemaStatements = []string{
	`create table if not exists accounts (
		id bigserial primary key,
		first_name text not null default '',
		last_name text not null default '',
		user_name text not null,
		password text not null default '',
		balance numeric(24,8) not null check (balance >= 0),
		is_root boolean not null default false,
		created_at timestamptz not null default now()
	)`,
	`create table if not exists cards (
		id bigserial primary key,
		card_name text not null,
		card_type text not null,
		rarity text not null,
		count bigint not null check (count > 0),
		owner_id bigint not null references accounts(id) on update restrict on delete restrict
	)`,
	`create index if not exists idx_cards_owner_name on cards(owner_id, card_name)`,
	`create table if not exists trades (
		id bigserial primary key,
		trade_id uuid not null unique,
		account_id bigint not null references accounts(id) on update restrict on delete restrict,
		kind text not null check (kind in ('buy', 'sell')),
		card_name text not null,
		card_type text not null default '',
		rarity text not null default '',
		quantity bigint not null,
		unit_price numeric(24,8) not null,
		total numeric(24,8) not null,
		balance_after numeric(24,8) not null,
		metadata jsonb not null default '{}'::jsonb,
		created_at timestamptz not null default now()
	)`,
	`create index if not exists idx_trades_account on trades(account_id, id desc)`,
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements cards.Store using a pgx connection pool (autocommit).
type Store struct {
	pool *pgxpool.Pool
	db   querier
}

// TxStore implements cards.Store for an active transaction.
type TxStore struct {
	tx pgx.Tx
}

// New returns a Store backed by a pgx pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, db: pool}
}

// Open connects a pool to databaseURL and verifies connectivity.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgx ping: %w", err)
	}
	return New(pool), nil
}

// Initialize opens the pool, ensures the schema and seeds the first account when the store is empty.
func Initialize(ctx context.Context, databaseURL string, seed cards.AccountInput) (*Store, error) {
	store, err := Open(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	if _, err := cards.EnsureSeedAccount(ctx, store, seed); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// Migrate creates missing tables and indexes.
func (store *Store) Migrate(ctx context.Context) error {
	for _, statement := range schemaStatements {
		if _, err := store.pool.Exec(ctx, statement); err != nil {
			return wrapStoreError(errorSubjectSchema, errorCodeMigrate, err)
		}
	}
	return nil
}

// Close releases the pool.
func (store *Store) Close() error {
	store.pool.Close()
	return nil
}

// Ping reports whether the database is reachable.
func (store *Store) Ping(ctx context.Context) error {
	return store.pool.Ping(ctx)
}

func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore cards.Store) error) error {
	tx, err := store.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeBegin, err)
	}
	transactionStore := &TxStore{tx: tx}
	if err := fn(ctx, transactionStore); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeCommit, err)
	}
	return nil
}

func (store *Store) CountAccounts(ctx context.Context) (int64, error) {
	return countAccounts(ctx, store.db)
}

func (store *Store) CreateAccount(ctx context.Context, input cards.AccountInput) (cards.Account, error) {
	return createAccount(ctx, store.db, input)
}

func (store *Store) GetAccount(ctx context.Context, accountID cards.AccountID) (cards.Account, error) {
	return getAccount(ctx, store.db, sqlSelectAccount, accountID)
}

// GetAccountForUpdate outside a transaction behaves like GetAccount; the lock ends with the statement.
func (store *Store) GetAccountForUpdate(ctx context.Context, accountID cards.AccountID) (cards.Account, error) {
	return getAccount(ctx, store.db, sqlSelectAccount, accountID)
}

func (store *Store) UpdateBalance(ctx context.Context, accountID cards.AccountID, balance decimal.Decimal) error {
	return updateBalance(ctx, store.db, accountID, balance)
}

func (store *Store) ListInventory(ctx context.Context, accountID cards.AccountID) ([]cards.Variant, error) {
	return queryVariants(ctx, store.db, sqlListInventory, accountID.Int64())
}

func (store *Store) FindVariant(ctx context.Context, accountID cards.AccountID, card cards.CardKey) (cards.Variant, bool, error) {
	return findVariant(ctx, store.db, accountID, card)
}

func (store *Store) InsertVariant(ctx context.Context, accountID cards.AccountID, card cards.CardKey, count int64) (cards.Variant, error) {
	return insertVariant(ctx, store.db, accountID, card, count)
}

func (store *Store) ListVariantsByName(ctx context.Context, accountID cards.AccountID, cardName string) ([]cards.Variant, error) {
	return queryVariants(ctx, store.db, sqlListVariantsByName, accountID.Int64(), cardName)
}

func (store *Store) UpdateVariantCount(ctx context.Context, variantID cards.VariantID, count int64) error {
	return updateVariantCount(ctx, store.db, variantID, count)
}

func (store *Store) DeleteVariant(ctx context.Context, variantID cards.VariantID) error {
	return deleteVariant(ctx, store.db, variantID)
}

func (store *Store) InsertTrade(ctx context.Context, trade cards.Trade) error {
	return insertTrade(ctx, store.db, trade)
}

func (store *Store) ListTrades(ctx context.Context, accountID cards.AccountID, limit int) ([]cards.Trade, error) {
	return listTrades(ctx, store.db, accountID, limit)
}

// WithTx joins the active transaction.
func (store *TxStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore cards.Store) error) error {
	return fn(ctx, store)
}

func (store *TxStore) CountAccounts(ctx context.Context) (int64, error) {
	return countAccounts(ctx, store.tx)
}

func (store *TxStore) CreateAccount(ctx context.Context, input cards.AccountInput) (cards.Account, error) {
	return createAccount(ctx, store.tx, input)
}

func (store *TxStore) GetAccount(ctx context.Context, accountID cards.AccountID) (cards.Account, error) {
	return getAccount(ctx, store.tx, sqlSelectAccount, accountID)
}

func (store *TxStore) GetAccountForUpdate(ctx context.Context, accountID cards.AccountID) (cards.Account, error) {
	return getAccount(ctx, store.tx, sqlSelectAccountForUpdate, accountID)
}

func (store *TxStore) UpdateBalance(ctx context.Context, accountID cards.AccountID, balance decimal.Decimal) error {
	return updateBalance(ctx, store.tx, accountID, balance)
}

func (store *TxStore) ListInventory(ctx context.Context, accountID cards.AccountID) ([]cards.Variant, error) {
	return queryVariants(ctx, store.tx, sqlListInventory, accountID.Int64())
}

func (store *TxStore) FindVariant(ctx context.Context, accountID cards.AccountID, card cards.CardKey) (cards.Variant, bool, error) {
	return findVariant(ctx, store.tx, accountID, card)
}

func (store *TxStore) InsertVariant(ctx context.Context, accountID cards.AccountID, card cards.CardKey, count int64) (cards.Variant, error) {
	return insertVariant(ctx, store.tx, accountID, card, count)
}

func (store *TxStore) ListVariantsByName(ctx context.Context, accountID cards.AccountID, cardName string) ([]cards.Variant, error) {
	return queryVariants(ctx, store.tx, sqlListVariantsByName, accountID.Int64(), cardName)
}

func (store *TxStore) UpdateVariantCount(ctx context.Context, variantID cards.VariantID, count int64) error {
	return updateVariantCount(ctx, store.tx, variantID, count)
}

func (store *TxStore) DeleteVariant(ctx context.Context, variantID cards.VariantID) error {
	return deleteVariant(ctx, store.tx, variantID)
}

func (store *TxStore) InsertTrade(ctx context.Context, trade cards.Trade) error {
	return insertTrade(ctx, store.tx, trade)
}

func (store *TxStore) ListTrades(ctx context.Context, accountID cards.AccountID, limit int) ([]cards.Trade, error) {
	return listTrades(ctx, store.tx, accountID, limit)
}

func countAccounts(ctx context.Context, db querier) (int64, error) {
	var count int64
	if err := db.QueryRow(ctx, sqlCountAccounts).Scan(&count); err != nil {
		return 0, wrapStoreError(errorSubjectAccount, errorCodeCount, err)
	}
	return count, nil
}

func createAccount(ctx context.Context, db querier, input cards.AccountInput) (cards.Account, error) {
	var id int64
	err := db.QueryRow(ctx, sqlInsertAccount,
		input.FirstName,
		input.LastName,
		input.UserName,
		input.Password,
		input.Balance.String(),
		input.IsRoot,
	).Scan(&id)
	if err != nil {
		return cards.Account{}, wrapStoreError(errorSubjectAccount, errorCodeCreate, err)
	}
	return cards.Account{
		ID:        cards.AccountID(id),
		FirstName: input.FirstName,
		LastName:  input.LastName,
		UserName:  input.UserName,
		Balance:   input.Balance,
		IsRoot:    input.IsRoot,
	}, nil
}

func getAccount(ctx context.Context, db querier, query string, accountID cards.AccountID) (cards.Account, error) {
	var (
		account      cards.Account
		id           int64
		balanceValue string
	)
	err := db.QueryRow(ctx, query, accountID.Int64()).Scan(
		&id,
		&account.FirstName,
		&account.LastName,
		&account.UserName,
		&balanceValue,
		&account.IsRoot,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return cards.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, cards.ErrAccountNotFound)
	}
	if err != nil {
		return cards.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, err)
	}
	balance, err := decimal.NewFromString(balanceValue)
	if err != nil {
		return cards.Account{}, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	account.ID = cards.AccountID(id)
	account.Balance = balance
	return account, nil
}

func updateBalance(ctx context.Context, db querier, accountID cards.AccountID, balance decimal.Decimal) error {
	if _, err := db.Exec(ctx, sqlUpdateBalance, accountID.Int64(), balance.String()); err != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeUpdate, err)
	}
	return nil
}

func queryVariants(ctx context.Context, db querier, query string, args ...any) ([]cards.Variant, error) {
	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapStoreError(errorSubjectCard, errorCodeList, err)
	}
	defer rows.Close()

	variants := make([]cards.Variant, 0)
	for rows.Next() {
		variant, err := scanVariant(rows)
		if err != nil {
			return nil, wrapStoreError(errorSubjectCard, errorCodeList, err)
		}
		variants = append(variants, variant)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectCard, errorCodeList, err)
	}
	return variants, nil
}

func findVariant(ctx context.Context, db querier, accountID cards.AccountID, card cards.CardKey) (cards.Variant, bool, error) {
	variant, err := scanVariant(db.QueryRow(ctx, sqlFindVariant, accountID.Int64(), card.Name, card.Type, card.Rarity))
	if errors.Is(err, pgx.ErrNoRows) {
		return cards.Variant{}, false, nil
	}
	if err != nil {
		return cards.Variant{}, false, wrapStoreError(errorSubjectCard, errorCodeLookup, err)
	}
	return variant, true, nil
}

func insertVariant(ctx context.Context, db querier, accountID cards.AccountID, card cards.CardKey, count int64) (cards.Variant, error) {
	var id int64
	err := db.QueryRow(ctx, sqlInsertVariant, card.Name, card.Type, card.Rarity, count, accountID.Int64()).Scan(&id)
	if isForeignKeyViolation(err) {
		return cards.Variant{}, wrapStoreError(errorSubjectCard, errorCodeInsert, cards.ErrAccountNotFound)
	}
	if err != nil {
		return cards.Variant{}, wrapStoreError(errorSubjectCard, errorCodeInsert, err)
	}
	return cards.Variant{ID: cards.VariantID(id), Owner: accountID, Card: card, Count: count}, nil
}

func updateVariantCount(ctx context.Context, db querier, variantID cards.VariantID, count int64) error {
	if count <= 0 {
		return wrapStoreError(errorSubjectCard, errorCodeInvalid, cards.ErrInvalidArgument)
	}
	if _, err := db.Exec(ctx, sqlUpdateVariantCount, variantID.Int64(), count); err != nil {
		return wrapStoreError(errorSubjectCard, errorCodeUpdate, err)
	}
	return nil
}

func deleteVariant(ctx context.Context, db querier, variantID cards.VariantID) error {
	if _, err := db.Exec(ctx, sqlDeleteVariant, variantID.Int64()); err != nil {
		return wrapStoreError(errorSubjectCard, errorCodeDelete, err)
	}
	return nil
}

func insertTrade(ctx context.Context, db querier, trade cards.Trade) error {
	tradeID := trade.TradeID
	if tradeID == "" {
		tradeID = uuid.NewString()
	}
	_, err := db.Exec(ctx, sqlInsertTrade,
		tradeID,
		trade.Owner.Int64(),
		trade.Kind.String(),
		trade.Card.Name,
		trade.Card.Type,
		trade.Card.Rarity,
		trade.Quantity,
		trade.UnitPrice.String(),
		trade.Total.String(),
		trade.BalanceAfter.String(),
		trade.MetadataJSON,
		trade.CreatedUnixUTC,
	)
	if isForeignKeyViolation(err) {
		return wrapStoreError(errorSubjectTrade, errorCodeInsert, cards.ErrAccountNotFound)
	}
	if err != nil {
		return wrapStoreError(errorSubjectTrade, errorCodeInsert, err)
	}
	return nil
}

func listTrades(ctx context.Context, db querier, accountID cards.AccountID, limit int) ([]cards.Trade, error) {
	rows, err := db.Query(ctx, sqlListTrades, accountID.Int64(), limit)
	if err != nil {
		return nil, wrapStoreError(errorSubjectTrade, errorCodeList, err)
	}
	defer rows.Close()

	trades := make([]cards.Trade, 0)
	for rows.Next() {
		var (
			trade        cards.Trade
			ownerID      int64
			kindValue    string
			unitPrice    string
			total        string
			balanceAfter string
		)
		if err := rows.Scan(
			&trade.TradeID,
			&ownerID,
			&kindValue,
			&trade.Card.Name,
			&trade.Card.Type,
			&trade.Card.Rarity,
			&trade.Quantity,
			&unitPrice,
			&total,
			&balanceAfter,
			&trade.MetadataJSON,
			&trade.CreatedUnixUTC,
		); err != nil {
			return nil, wrapStoreError(errorSubjectTrade, errorCodeList, err)
		}
		trade.Owner = cards.AccountID(ownerID)
		if trade.Kind, err = cards.ParseTradeKind(kindValue); err != nil {
			return nil, wrapStoreError(errorSubjectTrade, errorCodeInvalid, err)
		}
		if trade.UnitPrice, err = decimal.NewFromString(unitPrice); err != nil {
			return nil, wrapStoreError(errorSubjectTrade, errorCodeInvalid, err)
		}
		if trade.Total, err = decimal.NewFromString(total); err != nil {
			return nil, wrapStoreError(errorSubjectTrade, errorCodeInvalid, err)
		}
		if trade.BalanceAfter, err = decimal.NewFromString(balanceAfter); err != nil {
			return nil, wrapStoreError(errorSubjectTrade, errorCodeInvalid, err)
		}
		trades = append(trades, trade)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectTrade, errorCodeList, err)
	}
	return trades, nil
}

func scanVariant(row pgx.Row) (cards.Variant, error) {
	var (
		variant cards.Variant
		id      int64
		ownerID int64
	)
	if err := row.Scan(&id, &ownerID, &variant.Card.Name, &variant.Card.Type, &variant.Card.Rarity, &variant.Count); err != nil {
		return cards.Variant{}, err
	}
	variant.ID = cards.VariantID(id)
	variant.Owner = cards.AccountID(ownerID)
	return variant, nil
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgForeignKeyViolationCode
}

func wrapStoreError(subject string, code string, err error) error {
	return cards.WrapError(errorOperationStore, subject, code, err)
}
