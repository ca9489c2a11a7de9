// Package protocol parses the line-based card trading protocol and renders its responses.
package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/cardledger/cards/pkg/cards"
	"github.com/shopspring/decimal"
)

const (
	KeywordBuy      = "BUY"
	KeywordSell     = "SELL"
	KeywordList     = "LIST"
	KeywordBalance  = "BALANCE"
	KeywordQuit     = "QUIT"
	KeywordShutdown = "SHUTDOWN"

	usageBuy      = "BUY expects: BUY <name> <type> <rarity> <price> <count> <owner_id>"
	usageSell     = "SELL expects: SELL <name> <count> <price> <owner_id>"
	usageList     = "LIST expects: LIST <owner_id>"
	usageBalance  = "BALANCE expects: BALANCE <owner_id>"
	usageQuit     = "QUIT expects no arguments"
	usageShutdown = "SHUTDOWN expects no arguments"
)

var (
	// ErrFormat marks malformed command text: wrong arity, bad numbers or an empty line.
	ErrFormat = errors.New("message format error")
	// ErrUnknownCommand marks an unrecognized command keyword.
	ErrUnknownCommand = errors.New("invalid command")
)

// ParseError carries the failure class and the detail line sent to the client.
type ParseError struct {
	err    error
	detail string
}

func (parseError *ParseError) Error() string {
	return fmt.Sprintf("%v: %s", parseError.err, parseError.detail)
}

func (parseError *ParseError) Unwrap() error {
	return parseError.err
}

// Detail returns the human-readable detail line.
func (parseError *ParseError) Detail() string {
	return parseError.detail
}

func formatError(detail string) error {
	return &ParseError{err: ErrFormat, detail: detail}
}

// Command is one decoded request line.
type Command interface {
	Keyword() string
}

// Buy purchases Count units of an exact card variant for Owner.
type Buy struct {
	Card  cards.CardKey
	Price decimal.Decimal
	Count int64
	Owner cards.AccountID
}

// Sell sells Count units drawn from every variant named Name.
type Sell struct {
	Name  string
	Count int64
	Price decimal.Decimal
	Owner cards.AccountID
}

// List requests Owner's inventory rows.
type List struct {
	Owner cards.AccountID
}

// Balance requests Owner's cash balance.
type Balance struct {
	Owner cards.AccountID
}

// Quit ends the current session.
type Quit struct{}

// Shutdown ends the current session and stops the server from accepting new ones.
type Shutdown struct{}

func (Buy) Keyword() string      { return KeywordBuy }
func (Sell) Keyword() string     { return KeywordSell }
func (List) Keyword() string     { return KeywordList }
func (Balance) Keyword() string  { return KeywordBalance }
func (Quit) Keyword() string     { return KeywordQuit }
func (Shutdown) Keyword() string { return KeywordShutdown }

// Parse decodes one request line. The keyword is case-insensitive; arguments are
// whitespace-delimited. Failures are *ParseError values wrapping ErrFormat or ErrUnknownCommand.
func Parse(line string) (Command, error) {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return nil, formatError("empty line")
	}
	keyword := strings.ToUpper(parts[0])
	args := parts[1:]

	switch keyword {
	case KeywordBuy:
		return parseBuy(args)
	case KeywordSell:
		return parseSell(args)
	case KeywordList:
		owner, err := parseOwnerOnly(args, usageList)
		if err != nil {
			return nil, err
		}
		return List{Owner: owner}, nil
	case KeywordBalance:
		owner, err := parseOwnerOnly(args, usageBalance)
		if err != nil {
			return nil, err
		}
		return Balance{Owner: owner}, nil
	case KeywordQuit:
		if len(args) != 0 {
			return nil, formatError(usageQuit)
		}
		return Quit{}, nil
	case KeywordShutdown:
		if len(args) != 0 {
			return nil, formatError(usageShutdown)
		}
		return Shutdown{}, nil
	default:
		return nil, &ParseError{err: ErrUnknownCommand, detail: "unknown command: " + keyword}
	}
}

func parseBuy(args []string) (Command, error) {
	if len(args) != 6 {
		return nil, formatError(usageBuy)
	}
	price, priceErr := parsePrice(args[3])
	count, countErr := strconv.ParseInt(args[4], 10, 64)
	owner, ownerErr := parseOwner(args[5])
	if priceErr != nil || countErr != nil || ownerErr != nil {
		return nil, formatError("BUY has invalid number types")
	}
	return Buy{
		Card:  cards.CardKey{Name: args[0], Type: args[1], Rarity: args[2]},
		Price: price,
		Count: count,
		Owner: owner,
	}, nil
}

func parseSell(args []string) (Command, error) {
	if len(args) != 4 {
		return nil, formatError(usageSell)
	}
	count, countErr := strconv.ParseInt(args[1], 10, 64)
	price, priceErr := parsePrice(args[2])
	owner, ownerErr := parseOwner(args[3])
	if priceErr != nil || countErr != nil || ownerErr != nil {
		return nil, formatError("SELL has invalid number types")
	}
	return Sell{Name: args[0], Count: count, Price: price, Owner: owner}, nil
}

func parseOwnerOnly(args []string, usage string) (cards.AccountID, error) {
	if len(args) != 1 {
		return 0, formatError(usage)
	}
	owner, err := parseOwner(args[0])
	if err != nil {
		return 0, formatError(usage)
	}
	return owner, nil
}

func parseOwner(raw string) (cards.AccountID, error) {
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, err
	}
	return cards.AccountID(value), nil
}

func parsePrice(raw string) (decimal.Decimal, error) {
	price, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if err := cards.ValidateAmount("price", price); err != nil {
		return decimal.Decimal{}, err
	}
	return price, nil
}
