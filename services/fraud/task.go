package fraud

import (
	"context"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"

	"commissionplane/pkg/taskname"
)

var TaskModule = fx.Module("task.fraud",
	fx.Provide(NewTask),
)

type Task struct {
	service *Service
}

func NewTask(service *Service) *Task {
	return &Task{service: service}
}

func (t *Task) HandleFraudSweep(ctx context.Context, task *asynq.Task) error {
	_, err := t.service.Sweep(ctx)
	return err
}

// RegisterHandlers binds the fraud tasks onto the worker mux.
func RegisterHandlers(mux *asynq.ServeMux, task *Task) {
	mux.HandleFunc(taskname.FraudSweep, task.HandleFraudSweep)
}
