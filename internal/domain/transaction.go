package domain

import "time"

// TxType classifies how a transaction changes the held quantity.
type TxType string

const (
	TxBuy         TxType = "buy"
	TxSell        TxType = "sell"
	TxTransferIn  TxType = "transfer_in"
	TxTransferOut TxType = "transfer_out"
)

// Acquires reports whether the transaction adds to the held quantity.
func (t TxType) Acquires() bool {
	return t == TxBuy || t == TxTransferIn
}

// Disposes reports whether the transaction removes from the held quantity.
func (t TxType) Disposes() bool {
	return t == TxSell || t == TxTransferOut
}

// Valid reports whether t is one of the known transaction types.
func (t TxType) Valid() bool {
	return t.Acquires() || t.Disposes()
}

// Transaction is a single normalized history entry for one (user, token).
// Transactions are immutable and ordered by Timestamp; ties keep ingestion
// order (Index).
type Transaction struct {
	TxID         string    // deterministic hash, storage primary key
	UserID       string
	Token        Token
	Type         TxType
	Quantity     float64   // always > 0, sign implied by Type
	UnitPriceUSD float64   // >= 0
	Timestamp    time.Time
	Index        int       // ingestion order, tiebreaker for equal timestamps
}

// Validate checks the shape invariants a well-formed transaction must hold.
func (tx *Transaction) Validate() error {
	if !tx.Type.Valid() {
		return ErrInvalidTransaction
	}
	if tx.Quantity <= 0 {
		return ErrInvalidTransaction
	}
	if tx.UnitPriceUSD < 0 {
		return ErrInvalidTransaction
	}
	if tx.Timestamp.IsZero() {
		return ErrInvalidTransaction
	}
	return nil
}
