// Package idhash computes deterministic SHA256 identifiers. Hashes are
// stable across runs and processes so they can key caches and storage.
package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"tax-harvest-lab/internal/domain"
)

// ComputeParameterHash identifies a harvest parameter set.
// ForceRefresh is a cache directive, not a parameter, and is excluded.
// Returns hex-encoded hash (64 characters).
func ComputeParameterHash(cfg domain.HarvestConfig) string {
	disabled := append([]string(nil), cfg.DisabledChecks...)
	sort.Strings(disabled)

	data := fmt.Sprintf("%.6f|%.6f|%.6f|%.6f|%.6f|%s|%t|%d|%t|%s",
		cfg.TaxRate,
		cfg.MinLossUSD,
		cfg.MinLiquidityScore,
		cfg.MinRiskScore,
		cfg.MaxGasRatio,
		cfg.MaxRiskLevel,
		cfg.ExcludeWashSale,
		int64(cfg.WashSaleWindow),
		cfg.ReportAllChecks,
		strings.Join(disabled, ","),
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

// ComputeTransactionID identifies a transaction for storage dedup.
// Formula: SHA256(user_id|chain|address|type|quantity|price|timestamp_ms|index)
func ComputeTransactionID(tx *domain.Transaction) string {
	data := fmt.Sprintf("%s|%s|%s|%s|%.9f|%.9f|%d|%d",
		tx.UserID,
		tx.Token.Chain,
		tx.Token.Address,
		tx.Type,
		tx.Quantity,
		tx.UnitPriceUSD,
		tx.Timestamp.UnixMilli(),
		tx.Index,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
