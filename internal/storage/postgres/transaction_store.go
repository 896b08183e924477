package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"tax-harvest-lab/internal/domain"
	"tax-harvest-lab/internal/storage"
)

// TransactionStore implements storage.TransactionStore using PostgreSQL.
type TransactionStore struct {
	pool *Pool
}

// NewTransactionStore creates a new TransactionStore.
func NewTransactionStore(pool *Pool) *TransactionStore {
	return &TransactionStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TransactionStore = (*TransactionStore)(nil)

// Insert adds a transaction. Returns ErrDuplicateKey if tx_id exists.
func (s *TransactionStore) Insert(ctx context.Context, tx *domain.Transaction) error {
	if tx == nil || tx.TxID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO transactions (
			tx_id, user_id, chain, symbol, address, tx_type, quantity, unit_price_usd, timestamp, ingestion_index
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := s.pool.Exec(ctx, query,
		tx.TxID,
		tx.UserID,
		string(tx.Token.Chain),
		tx.Token.Symbol,
		tx.Token.Address,
		string(tx.Type),
		tx.Quantity,
		tx.UnitPriceUSD,
		tx.Timestamp,
		tx.Index,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// InsertBulk adds multiple transactions, skipping duplicates. Returns
// the number actually inserted.
func (s *TransactionStore) InsertBulk(ctx context.Context, txs []*domain.Transaction) (int, error) {
	if len(txs) == 0 {
		return 0, nil
	}

	query := `
		INSERT INTO transactions (
			tx_id, user_id, chain, symbol, address, tx_type, quantity, unit_price_usd, timestamp, ingestion_index
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (tx_id) DO NOTHING
	`

	inserted := 0
	for _, tx := range txs {
		if tx == nil || tx.TxID == "" {
			return inserted, storage.ErrInvalidInput
		}
		tag, err := s.pool.Exec(ctx, query,
			tx.TxID,
			tx.UserID,
			string(tx.Token.Chain),
			tx.Token.Symbol,
			tx.Token.Address,
			string(tx.Type),
			tx.Quantity,
			tx.UnitPriceUSD,
			tx.Timestamp,
			tx.Index,
		)
		if err != nil {
			return inserted, fmt.Errorf("insert transaction in bulk: %w", err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

// GetByUser retrieves all transactions for a user, ordered by
// (timestamp, ingestion_index) ASC.
func (s *TransactionStore) GetByUser(ctx context.Context, userID string) ([]*domain.Transaction, error) {
	query := `
		SELECT tx_id, user_id, chain, symbol, address, tx_type, quantity, unit_price_usd, timestamp, ingestion_index
		FROM transactions
		WHERE user_id = $1
		ORDER BY timestamp ASC, ingestion_index ASC
	`

	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("get transactions by user: %w", err)
	}
	defer rows.Close()

	return scanTransactions(rows)
}

// GetByUserToken retrieves a user's transactions for one token, ordered
// by (timestamp, ingestion_index) ASC.
func (s *TransactionStore) GetByUserToken(ctx context.Context, userID string, token domain.Token) ([]*domain.Transaction, error) {
	query := `
		SELECT tx_id, user_id, chain, symbol, address, tx_type, quantity, unit_price_usd, timestamp, ingestion_index
		FROM transactions
		WHERE user_id = $1 AND chain = $2 AND address = $3
		ORDER BY timestamp ASC, ingestion_index ASC
	`

	rows, err := s.pool.Query(ctx, query, userID, string(token.Chain), token.Address)
	if err != nil {
		return nil, fmt.Errorf("get transactions by user token: %w", err)
	}
	defer rows.Close()

	return scanTransactions(rows)
}

// scanTransactions scans multiple rows into a slice of Transaction.
func scanTransactions(rows pgx.Rows) ([]*domain.Transaction, error) {
	var txs []*domain.Transaction

	for rows.Next() {
		var (
			tx     domain.Transaction
			chain  string
			txType string
		)

		err := rows.Scan(
			&tx.TxID,
			&tx.UserID,
			&chain,
			&tx.Token.Symbol,
			&tx.Token.Address,
			&txType,
			&tx.Quantity,
			&tx.UnitPriceUSD,
			&tx.Timestamp,
			&tx.Index,
		)
		if err != nil {
			return nil, fmt.Errorf("scan transaction row: %w", err)
		}
		tx.Token.Chain = domain.Chain(chain)
		tx.Type = domain.TxType(txType)

		txs = append(txs, &tx)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transaction rows: %w", err)
	}

	return txs, nil
}
