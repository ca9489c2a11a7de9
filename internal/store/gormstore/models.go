package gormstore

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Account represents the accounts table.
type Account struct {
	ID        int64           `gorm:"primaryKey;autoIncrement"`
	FirstName string          `gorm:"size:255;not null;default:''"`
	LastName  string          `gorm:"size:255;not null;default:''"`
	UserName  string          `gorm:"size:255;not null"`
	Password  string          `gorm:"size:255;not null;default:''"`
	Balance   decimal.Decimal `gorm:"type:decimal(24,8);not null"`
	IsRoot    bool            `gorm:"not null;default:false"`
	CreatedAt time.Time       `gorm:"not null"`
}

func (Account) TableName() string { return "accounts" }

// Card mirrors one inventory variant row.
type Card struct {
	ID       int64   `gorm:"primaryKey;autoIncrement"`
	CardName string  `gorm:"size:255;not null;index:idx_cards_owner_name,priority:2"`
	CardType string  `gorm:"size:255;not null"`
	Rarity   string  `gorm:"size:255;not null"`
	Count    int64   `gorm:"not null"`
	OwnerID  int64   `gorm:"not null;index:idx_cards_owner_name,priority:1"`
	Owner    Account `gorm:"foreignKey:OwnerID;references:ID;constraint:OnUpdate:RESTRICT,OnDelete:RESTRICT"`
}

func (Card) TableName() string { return "cards" }

// Trade mirrors the trades journal table.
type Trade struct {
	ID           int64           `gorm:"primaryKey;autoIncrement"`
	TradeID      string          `gorm:"size:36;not null;uniqueIndex:idx_trades_trade_id"`
	AccountID    int64           `gorm:"not null;index:idx_trades_account"`
	Kind         string          `gorm:"size:16;not null"`
	CardName     string          `gorm:"size:255;not null"`
	CardType     string          `gorm:"size:255;not null;default:''"`
	Rarity       string          `gorm:"size:255;not null;default:''"`
	Quantity     int64           `gorm:"not null"`
	UnitPrice    decimal.Decimal `gorm:"type:decimal(24,8);not null"`
	Total        decimal.Decimal `gorm:"type:decimal(24,8);not null"`
	BalanceAfter decimal.Decimal `gorm:"type:decimal(24,8);not null"`
	Metadata     datatypes.JSON  `gorm:"not null"`
	CreatedAt    time.Time       `gorm:"not null"`
	Account      Account         `gorm:"foreignKey:AccountID;references:ID;constraint:OnUpdate:RESTRICT,OnDelete:RESTRICT"`
}

func (Trade) TableName() string { return "trades" }

func (trade *Trade) BeforeCreate(tx *gorm.DB) error {
	if trade.TradeID == "" {
		trade.TradeID = uuid.NewString()
	}
	return nil
}
