package txsource

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"tax-harvest-lab/internal/cache"
	"tax-harvest-lab/internal/idhash"
	"tax-harvest-lab/internal/storage"
)

// seenTTL bounds how long tx ids stay in the in-process dedupe cache.
// The store rejects duplicates regardless; the cache just avoids
// pointless inserts during repeated syncs.
const seenTTL = 30 * time.Minute

// Ingestor pulls transactions from a source into a store. Records
// without a tx id get a deterministic one, so re-ingesting the same
// history is idempotent.
type Ingestor struct {
	source TransactionSource
	store  storage.TransactionStore
	seen   *cache.TTL[string, struct{}]
	log    zerolog.Logger
}

// NewIngestor creates a new Ingestor.
func NewIngestor(source TransactionSource, store storage.TransactionStore, log zerolog.Logger) *Ingestor {
	return &Ingestor{
		source: source,
		store:  store,
		seen:   cache.NewTTL[string, struct{}](seenTTL),
		log:    log,
	}
}

// Sync fetches the user's history and persists new records. Malformed
// records are skipped and logged, not fatal. Returns the number of
// records actually inserted.
func (i *Ingestor) Sync(ctx context.Context, userID string) (int, error) {
	txs, err := i.source.Fetch(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("fetch transactions for user %s: %w", userID, err)
	}

	fresh := txs[:0:0]
	for _, tx := range txs {
		if tx.TxID == "" {
			tx.TxID = idhash.ComputeTransactionID(tx)
		}
		if err := tx.Validate(); err != nil {
			i.log.Warn().
				Err(err).
				Str("tx_id", tx.TxID).
				Str("user_id", userID).
				Msg("skipping malformed transaction")
			continue
		}
		if err := tx.Token.ValidateAddress(); err != nil {
			i.log.Warn().
				Err(err).
				Str("tx_id", tx.TxID).
				Str("user_id", userID).
				Msg("skipping transaction with invalid token address")
			continue
		}
		if _, ok := i.seen.Get(tx.TxID); ok {
			continue
		}
		fresh = append(fresh, tx)
	}

	if len(fresh) == 0 {
		return 0, nil
	}

	inserted, err := i.store.InsertBulk(ctx, fresh)
	if err != nil {
		return inserted, fmt.Errorf("persist transactions for user %s: %w", userID, err)
	}

	for _, tx := range fresh {
		i.seen.Set(tx.TxID, struct{}{})
	}

	i.log.Debug().
		Str("user_id", userID).
		Int("fetched", len(txs)).
		Int("inserted", inserted).
		Msg("transaction sync complete")

	return inserted, nil
}
