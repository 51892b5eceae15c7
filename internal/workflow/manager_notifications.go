package workflow

import (
	"context"

	"genfetch/internal/batch"
	"genfetch/internal/notifications"
	"genfetch/internal/retry"
	"genfetch/internal/services"
)

func (m *Manager) publishReport(ctx context.Context, b batch.Batch, report retry.Report, err error) {
	if services.IsCancellation(err) {
		return
	}
	switch {
	case err == nil:
		m.dispatcher.Publish(ctx, notifications.EventBatchCompleted, notifications.Payload{
			"identity":  b.Identity,
			"batch_id":  b.ID,
			"fulfilled": report.Applied,
			"dropped":   len(report.HardFailed) + len(report.Dropped) + report.ApplyFailed,
		})
	case report.Aborted:
		m.dispatcher.Publish(ctx, notifications.EventBatchAborted, notifications.Payload{
			"identity": b.Identity,
			"batch_id": b.ID,
			"error":    err.Error(),
		})
	}
}

func (m *Manager) publishPending(ctx context.Context, count int) {
	if count == 0 {
		return
	}
	m.dispatcher.Publish(ctx, notifications.EventRecoveryPending, notifications.Payload{"count": count})
}
