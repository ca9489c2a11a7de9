package protocol

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/cardledger/cards/pkg/cards"
	"github.com/shopspring/decimal"
)

const (
	StatusOK             = "200 OK"
	StatusInvalidCommand = "400 invalid command"
	StatusFormatError    = "403 message format error"

	detailAccountNotFound       = "account not found"
	detailInsufficientFunds     = "insufficient funds"
	detailInsufficientInventory = "insufficient inventory"
	detailInternal              = "internal error"

	displayNamePlaceholder = "Unknown"
	listHeaderFormat       = "%-4s %-12s %-10s %-10s %-5s %-7s"
	listRowFormat          = "%-4d %-12s %-10s %-10s %-5d %-7d"
)

// Response is one reply unit: a status line, body lines, then a blank line.
type Response struct {
	Status string
	Body   []string
}

// WriteTo writes the response unit. Empty body lines are skipped so the blank
// terminator stays unambiguous.
func (response Response) WriteTo(writer io.Writer) (int64, error) {
	var builder strings.Builder
	builder.WriteString(response.Status)
	builder.WriteByte('\n')
	for _, line := range response.Body {
		if strings.TrimSpace(line) == "" {
			continue
		}
		builder.WriteString(line)
		builder.WriteByte('\n')
	}
	builder.WriteByte('\n')
	written, err := io.WriteString(writer, builder.String())
	return int64(written), err
}

// OK returns a 200 response with the given body lines.
func OK(body ...string) Response {
	return Response{Status: StatusOK, Body: body}
}

// FormatError returns a 403 response with one detail line.
func FormatError(detail string) Response {
	return Response{Status: StatusFormatError, Body: []string{detail}}
}

// InvalidCommand returns a 400 response with one detail line.
func InvalidCommand(detail string) Response {
	return Response{Status: StatusInvalidCommand, Body: []string{detail}}
}

// Internal is the reply for faults outside the error taxonomy.
func Internal() Response {
	return FormatError(detailInternal)
}

// RenderBuy reports the purchased variant's count and the new balance.
func RenderBuy(cardName string, result cards.BuyResult) Response {
	return OK(fmt.Sprintf("BOUGHT: New balance: %d %s.  User USD balance $%s", result.VariantCount, cardName, formatMoney(result.Balance)))
}

// RenderSell reports the units still held under the name and the new balance.
func RenderSell(cardName string, result cards.SellResult) Response {
	return OK(fmt.Sprintf("SOLD: New balance: %d %s. User's balance USD $%s", result.Remaining, cardName, formatMoney(result.Balance)))
}

// RenderBalance reports the account's cash balance under its display name.
func RenderBalance(account cards.Account) Response {
	return OK(fmt.Sprintf("Balance for user %s: $%s", DisplayName(account), formatMoney(account.Balance)))
}

// RenderList renders owner's rows as a fixed-width table.
func RenderList(owner cards.AccountID, variants []cards.Variant) Response {
	body := make([]string, 0, len(variants)+2)
	body = append(body, fmt.Sprintf("The list of records in the Pokémon cards table for current user, user %d:", owner.Int64()))
	body = append(body, strings.TrimRight(fmt.Sprintf(listHeaderFormat, "ID", "Card Name", "Type", "Rarity", "Count", "OwnerID"), " "))
	for _, variant := range variants {
		body = append(body, strings.TrimRight(fmt.Sprintf(listRowFormat,
			variant.ID.Int64(),
			variant.Card.Name,
			variant.Card.Type,
			variant.Card.Rarity,
			variant.Count,
			variant.Owner.Int64(),
		), " "))
	}
	return OK(body...)
}

// DisplayName prefers "First Last", then the user name, then a placeholder.
func DisplayName(account cards.Account) string {
	full := strings.TrimSpace(strings.TrimSpace(account.FirstName) + " " + strings.TrimSpace(account.LastName))
	if full != "" {
		return full
	}
	if userName := strings.TrimSpace(account.UserName); userName != "" {
		return userName
	}
	return displayNamePlaceholder
}

// RenderError maps err to its reply. internal reports that err fell outside the
// client error taxonomy and should be logged.
func RenderError(err error) (response Response, internal bool) {
	var parseError *ParseError
	switch {
	case errors.As(err, &parseError) && errors.Is(err, ErrUnknownCommand):
		return InvalidCommand(parseError.Detail()), false
	case errors.As(err, &parseError):
		return FormatError(parseError.Detail()), false
	case errors.Is(err, cards.ErrAccountNotFound):
		return FormatError(detailAccountNotFound), false
	case errors.Is(err, cards.ErrInsufficientFunds):
		return FormatError(detailInsufficientFunds), false
	case errors.Is(err, cards.ErrInsufficientInventory):
		return FormatError(detailInsufficientInventory), false
	case errors.Is(err, cards.ErrInvalidArgument):
		return FormatError(innermostMessage(err)), false
	default:
		return Internal(), true
	}
}

// innermostMessage strips store operation prefixes from err's message.
func innermostMessage(err error) string {
	var operationError cards.OperationError
	for errors.As(err, &operationError) {
		err = operationError.Unwrap()
	}
	return err.Error()
}

func formatMoney(amount decimal.Decimal) string {
	return amount.StringFixed(2)
}
