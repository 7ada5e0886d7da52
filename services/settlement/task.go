package settlement

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"commissionplane/pkg/taskname"
)

var TaskModule = fx.Module("task.settlement",
	fx.Provide(NewTask),
)

// Task adapts the settlement service onto the asynq worker surface.
type Task struct {
	service *Service
}

func NewTask(service *Service) *Task {
	return &Task{service: service}
}

func (t *Task) HandleOrderCompleted(ctx context.Context, task *asynq.Task) error {
	var payload OrderCompletedPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	zap.L().Info("processing order completed fact",
		zap.String("task_type", task.Type()),
		zap.String("order_id", payload.OrderID),
	)

	_, err := t.service.IngestOrderCompleted(ctx, payload)
	return err
}

func (t *Task) HandleOrderRefunded(ctx context.Context, task *asynq.Task) error {
	var payload OrderRefundedPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	zap.L().Info("processing order refunded fact",
		zap.String("task_type", task.Type()),
		zap.String("order_id", payload.OrderID),
		zap.Float64("refund_ratio", payload.RefundRatio),
	)

	return t.service.CancelOrderRewards(ctx, payload.OrderID, payload.RefundRatio)
}

func (t *Task) HandleSettlementRun(ctx context.Context, task *asynq.Task) error {
	_, err := t.service.RunScheduledSettlement(ctx)
	return err
}

// RegisterHandlers binds the settlement tasks onto the worker mux.
func RegisterHandlers(mux *asynq.ServeMux, task *Task) {
	mux.HandleFunc(taskname.OrderCompleted, task.HandleOrderCompleted)
	mux.HandleFunc(taskname.OrderRefunded, task.HandleOrderRefunded)
	mux.HandleFunc(taskname.SettlementRun, task.HandleSettlementRun)
}
