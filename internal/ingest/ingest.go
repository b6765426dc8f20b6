package ingest

import (
	"context"
	"time"

	"epireport/internal/model"
	"epireport/internal/pipeline"
)

// Handler runs one decoded payload through validation, storage and alerting.
// *pipeline.Pipeline implements it.
type Handler interface {
	Handle(ctx context.Context, payload model.GatewayPayload) (pipeline.Result, error)
}

type Enqueuer interface {
	Enqueue(ctx context.Context, payload model.GatewayPayload) error
}

func BackoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
