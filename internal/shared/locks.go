package shared

import "fmt"

// LedgerLockKey builds redis keys guarding a single ledger record.
func LedgerLockKey(ledgerID int64) string {
	return fmt.Sprintf("ledger:%d:lock", ledgerID)
}

// ReconcileSweepLockKey guards the periodic reconcile sweep.
func ReconcileSweepLockKey() string {
	return "ledger:reconcile:sweep:lock"
}
