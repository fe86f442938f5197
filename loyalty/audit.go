/*
audit.go - Ledger-vs-profile reconciliation

PURPOSE:
  The transaction log is the audit trail: replaying a user's signed
  transaction deltas, clamped at the zero floor the same way the live
  mutation path clamps, must land exactly on the profile's current point
  balance. Reconcile makes that check runnable on demand so drift (a
  mutation that skipped the Transactor, a partial write in a broken store)
  is detectable instead of silent.

REPLAY RULE:
  balance := 0
  for each tx, oldest first:
      balance += tx.Points
      if balance < 0 { balance = 0 }
*/
package loyalty

import (
	"context"
	"fmt"
)

// ReconcileReport compares a replay of the ledger with the stored balance.
type ReconcileReport struct {
	UserID       string
	LedgerPoints int64
	StoredPoints int64
	Transactions int
	InSync       bool
}

// Drift returns stored minus ledger points; zero when in sync.
func (r ReconcileReport) Drift() int64 {
	return r.StoredPoints - r.LedgerPoints
}

// Reconcile replays the user's transaction log and checks the conservation
// invariant against the profile. A report with InSync=false is a
// correctness bug somewhere, not a business outcome.
func (t *Transactor) Reconcile(ctx context.Context, userID string) (ReconcileReport, error) {
	p, err := t.store.Get(ctx, userID)
	if err != nil {
		return ReconcileReport{}, err
	}
	txs, err := t.store.ListByUser(ctx, userID, 0)
	if err != nil {
		return ReconcileReport{}, fmt.Errorf("load transactions: %w", err)
	}

	// ListByUser is newest-first; replay wants oldest-first.
	var balance int64
	for i := len(txs) - 1; i >= 0; i-- {
		balance += txs[i].Points
		if balance < 0 {
			balance = 0
		}
	}

	return ReconcileReport{
		UserID:       userID,
		LedgerPoints: balance,
		StoredPoints: p.Points,
		Transactions: len(txs),
		InSync:       balance == p.Points,
	}, nil
}
