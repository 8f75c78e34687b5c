// Package worker hosts the background loops: settlement of confirmed
// payments and reconciliation of stuck orders. Multiple instances are safe;
// the orchestrator's compare-and-set claim arbitrates between them.
package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nivant/tokensettle/internal/domain"
	"github.com/nivant/tokensettle/internal/observability"
	"github.com/nivant/tokensettle/internal/settlement"
	"github.com/nivant/tokensettle/internal/storage"
)

// SettlementWorker polls for payment_confirmed orders and drives each one
// through the orchestrator.
type SettlementWorker struct {
	store        storage.Store
	orchestrator *settlement.Orchestrator
	pollInterval time.Duration
	batchSize    int32
	stopCh       chan struct{}
	stopOnce     sync.Once
}

func NewSettlementWorker(store storage.Store, orchestrator *settlement.Orchestrator) *SettlementWorker {
	return &SettlementWorker{
		store:        store,
		orchestrator: orchestrator,
		pollInterval: 5 * time.Second,
		batchSize:    10,
		stopCh:       make(chan struct{}),
	}
}

// WithPollInterval updates the poll interval.
func (w *SettlementWorker) WithPollInterval(interval time.Duration) *SettlementWorker {
	if interval > 0 {
		w.pollInterval = interval
	}
	return w
}

// WithBatchSize updates how many orders each pass pulls.
func (w *SettlementWorker) WithBatchSize(size int32) *SettlementWorker {
	if size > 0 {
		w.batchSize = size
	}
	return w
}

// Start blocks and processes batches at the configured interval.
func (w *SettlementWorker) Start(ctx context.Context) {
	zap.L().Info("settlement worker starting",
		zap.Duration("poll_interval", w.pollInterval),
		zap.Int32("batch_size", w.batchSize),
	)
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("settlement worker context canceled")
			return
		case <-w.stopCh:
			zap.L().Info("settlement worker stop signal received")
			return
		case <-ticker.C:
			w.processBatch(ctx)
		}
	}
}

// Stop stops the running worker loop.
func (w *SettlementWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

// Run starts the worker in a goroutine and returns a stop function.
func (w *SettlementWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

// ProcessOnce settles a single batch immediately. Useful for tests and
// manual triggering.
func (w *SettlementWorker) ProcessOnce(ctx context.Context) error {
	orders, err := w.store.ListOrdersByStatus(ctx, domain.OrderStatusPaymentConfirmed, w.batchSize)
	if err != nil {
		return err
	}
	for i := range orders {
		if err := w.orchestrator.Settle(ctx, orders[i].ID); err != nil {
			zap.L().Error("settlement attempt failed",
				zap.Error(err),
				zap.String("order_id", orders[i].ID.String()),
			)
		}
	}
	return nil
}

func (w *SettlementWorker) processBatch(ctx context.Context) {
	if err := w.ProcessOnce(ctx); err != nil {
		observability.IncrementWorkerRun("settlement", "failed")
		zap.L().Error("settlement batch failed", zap.Error(err))
		return
	}
	observability.IncrementWorkerRun("settlement", "success")
}
