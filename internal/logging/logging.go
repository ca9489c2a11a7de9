// Package logging builds the process logger and adapts it to service callbacks.
package logging

import (
	"context"
	"fmt"
	"strings"

	"github.com/cardledger/cards/pkg/cards"
	"go.uber.org/zap"
)

const (
	FormatJSON    = "json"
	FormatConsole = "console"

	operationMessage = "card operation"
)

// New returns a production logger for FormatJSON and a development logger for FormatConsole.
func New(format string) (*zap.Logger, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", FormatJSON:
		return zap.NewProduction()
	case FormatConsole:
		return zap.NewDevelopment()
	default:
		return nil, fmt.Errorf("unsupported log format %q", format)
	}
}

// OperationLogger writes cards.OperationLog entries to zap.
type OperationLogger struct {
	logger *zap.Logger
}

// NewOperationLogger wraps logger; a nil logger discards entries.
func NewOperationLogger(logger *zap.Logger) *OperationLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OperationLogger{logger: logger}
}

// LogOperation records one operation. Failures outside the client taxonomy log at error level.
func (operationLogger *OperationLogger) LogOperation(_ context.Context, entry cards.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
		zap.Int64("owner_id", entry.Owner.Int64()),
	}
	if entry.Card.Name != "" {
		fields = append(fields, zap.String("card_name", entry.Card.Name))
	}
	if entry.Card.Type != "" {
		fields = append(fields, zap.String("card_type", entry.Card.Type), zap.String("rarity", entry.Card.Rarity))
	}
	if entry.Quantity != 0 {
		fields = append(fields, zap.Int64("quantity", entry.Quantity))
	}
	fields = append(fields, zap.String("amount", entry.UnitPrice.String()))
	switch {
	case entry.Error == nil:
		operationLogger.logger.Info(operationMessage, fields...)
	case cards.IsClientError(entry.Error):
		operationLogger.logger.Info(operationMessage, append(fields, zap.Error(entry.Error))...)
	default:
		operationLogger.logger.Error(operationMessage, append(fields, zap.Error(entry.Error))...)
	}
}
