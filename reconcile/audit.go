package reconcile

import (
	"fmt"
	"time"

	"github.com/go-redis/redis/v7"
	"go.uber.org/zap"

	"github.com/malipo-ke/malipo/gateway"
)

var _ Audit = &RedisAudit{}

// confirmation audit records are kept long enough to investigate disputes
const auditTTL = 30 * 24 * time.Hour

// RedisAudit keeps a best-effort trail of every confirmation delivery,
// including duplicates the ledger guard discarded. Failures here are logged
// and swallowed: the audit trail must never affect reconciliation.
type RedisAudit struct {
	client redis.UniversalClient
	logger *zap.Logger
}

// NewRedisAudit returns an Audit backed by redis
func NewRedisAudit(logger *zap.Logger, client redis.UniversalClient) (*RedisAudit, error) {
	if client == nil {
		return nil, fmt.Errorf("nil redis client is invalid")
	}
	if logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &RedisAudit{
		client: client,
		logger: logger,
	}, nil
}

// RecordConfirmation records one delivery of a confirmation event and whether
// the ledger applied it
func (a *RedisAudit) RecordConfirmation(conf *gateway.Confirmation, applied bool) {
	key := fmt.Sprintf("confirmation:%s", conf.ExternalReference)

	pipe := a.client.TxPipeline()
	deliveries := pipe.Incr(key + ":deliveries")
	pipe.HSet(key,
		"resultCode", conf.ResultCode,
		"receiptId", conf.ReceiptID,
		"applied", applied,
		"lastSeenAt", time.Now().Format(time.RFC3339),
	)
	pipe.Expire(key, auditTTL)
	pipe.Expire(key+":deliveries", auditTTL)
	if _, err := pipe.Exec(); err != nil {
		a.logger.Warn("Unable to record confirmation audit entry",
			zap.String("ExternalReference", conf.ExternalReference),
			zap.Error(err),
		)
		return
	}

	if deliveries.Val() > 1 {
		a.logger.Info("Duplicate confirmation delivery observed",
			zap.String("ExternalReference", conf.ExternalReference),
			zap.Int64("Deliveries", deliveries.Val()),
		)
	}
}
