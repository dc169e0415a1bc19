/*
reconcile.go - Periodic balance reconciliation

PURPOSE:
  Walks every customer of every owner on a fixed interval and rebuilds its
  running balances from the transactions. Mutations already self-heal the
  customer they touch; this sweep also repairs customers nobody touches.

DESIGN:
  - One background goroutine driven by a time.Ticker
  - Runs once immediately on Start
  - Each customer is an independent Ledger.Rebuild; a failure is logged
    and the sweep moves on

USAGE:
  r := khata.NewReconciler(ledger, time.Hour)
  r.Start()
  // ... later
  r.Stop()

SEE ALSO:
  - ledger.go: Rebuild
*/
package khata

import (
	"context"
	"sync"
	"time"
)

// ReconcileReport summarizes one sweep.
type ReconcileReport struct {
	Owners    int
	Customers int
	Repaired  int // customers whose stored balance changed
	Failed    int
}

// Reconciler periodically rebuilds every customer's balances.
type Reconciler struct {
	ledger   *Ledger
	interval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewReconciler(ledger *Ledger, interval time.Duration) *Reconciler {
	return &Reconciler{ledger: ledger, interval: interval}
}

// Start begins the sweep loop. A non-positive interval disables it.
func (r *Reconciler) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.interval <= 0 {
		r.ledger.logger.Info("reconciler disabled")
		return
	}
	if r.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.run(ctx)

	r.ledger.logger.Info("reconciler started", "interval", r.interval.String())
}

// Stop stops the loop and waits for a running sweep to finish.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
	r.cancel, r.done = nil, nil
	r.ledger.logger.Info("reconciler stopped")
}

func (r *Reconciler) run(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.RunNow(ctx)
	for {
		select {
		case <-ticker.C:
			r.RunNow(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// RunNow performs one sweep synchronously.
func (r *Reconciler) RunNow(ctx context.Context) ReconcileReport {
	var report ReconcileReport
	logger := r.ledger.logger

	owners, err := r.ledger.store.ListOwners(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "reconciler: list owners failed", "error", err)
		return report
	}

	for _, ownerID := range owners {
		customers, err := r.ledger.store.ListCustomers(ctx, ownerID, CustomerFilter{})
		if err != nil {
			logger.ErrorContext(ctx, "reconciler: list customers failed", "owner_id", ownerID, "error", err)
			report.Failed++
			continue
		}
		report.Owners++

		for _, c := range customers {
			if ctx.Err() != nil {
				return report
			}
			report.Customers++
			rebuilt, err := r.ledger.Rebuild(ctx, ownerID, c.ID)
			if err != nil {
				logger.WarnContext(ctx, "reconciler: rebuild failed",
					"owner_id", ownerID, "customer_id", c.ID, "error", err)
				report.Failed++
				continue
			}
			if !rebuilt.Balance.Equal(c.Balance) {
				report.Repaired++
			}
		}
	}

	if report.Repaired > 0 || report.Failed > 0 {
		logger.InfoContext(ctx, "reconciler: sweep completed",
			"customers", report.Customers,
			"repaired", report.Repaired,
			"failed", report.Failed)
	}
	return report
}
