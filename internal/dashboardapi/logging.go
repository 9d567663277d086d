package dashboardapi

import (
	"context"

	"github.com/MarkoPoloResearchLab/creditdesk/pkg/creditledger"
	"go.uber.org/zap"
)

// zapOperationLogger adapts zap to the ledger's OperationLogger.
type zapOperationLogger struct {
	logger *zap.Logger
}

// NewZapOperationLogger wires ledger operation callbacks into zap.
func NewZapOperationLogger(logger *zap.Logger) creditledger.OperationLogger {
	return &zapOperationLogger{logger: logger}
}

func (adapter *zapOperationLogger) LogOperation(_ context.Context, entry creditledger.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("reference", entry.Reference),
		zap.String("amount", entry.Amount.String()),
		zap.String("status", entry.Status),
	}
	if entry.Error != nil {
		adapter.logger.Warn("ledger operation", append(fields, zap.Error(entry.Error))...)
		return
	}
	adapter.logger.Info("ledger operation", fields...)
}
