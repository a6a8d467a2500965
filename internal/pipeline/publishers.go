package pipeline

import (
	"context"
	"time"

	"signal-engine/internal/model"
)

// Publishers fans status and events out to several publishers
// (Redis and the websocket hub).
type Publishers []model.StatusPublisher

func (ps Publishers) PublishStatus(ctx context.Context, pos model.Position, lastBar time.Time) {
	for _, p := range ps {
		p.PublishStatus(ctx, pos, lastBar)
	}
}

func (ps Publishers) PublishEvent(ctx context.Context, ev model.SignalEvent) {
	for _, p := range ps {
		p.PublishEvent(ctx, ev)
	}
}
