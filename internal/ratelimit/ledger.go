package ratelimit

import (
	"context"
	"time"

	ledgerdomain "github.com/smallbiznis/feedlink/internal/ledger/domain"
)

// LedgerBackend keeps caller windows in the database when no redis is configured.
type LedgerBackend struct {
	ledger ledgerdomain.Ledger
}

func NewLedgerBackend(ledger ledgerdomain.Ledger) *LedgerBackend {
	return &LedgerBackend{ledger: ledger}
}

func (b *LedgerBackend) Hit(ctx context.Context, key string, window time.Duration, now time.Time) (int64, int64, error) {
	if key == "" {
		return 0, 0, ErrEmptyKey
	}
	return b.ledger.HitCallerWindow(ctx, key, window, now)
}
