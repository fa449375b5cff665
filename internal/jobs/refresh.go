package jobs

import (
	"context"
	"fmt"
	"iter"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RefreshResult counts the items a refresh run saw and the ones it published.
type RefreshResult struct {
	Published int `json:"published"`
	Total     int `json:"total"`
}

// PublishRefresh re-publishes every item yielded by source. A failing item is
// logged and skipped; only an error from the source stops the run, in which
// case the counts so far are returned with the error.
func PublishRefresh[T any](
	ctx context.Context,
	logger *zap.Logger,
	name string,
	idOf func(T) uuid.UUID,
	source iter.Seq2[T, error],
	publish func(context.Context, T) error,
) (RefreshResult, error) {
	var result RefreshResult

	logger.Info("Starting refresh publication", zap.String("form_type", name))

	for item, err := range source {
		if err != nil {
			logger.Error("Refresh source failed",
				zap.String("form_type", name),
				zap.Int("published", result.Published),
				zap.Int("total", result.Total),
				zap.Error(err))
			return result, fmt.Errorf("refresh %s: %w", name, err)
		}

		result.Total++
		if err := publishOne(ctx, item, publish); err != nil {
			logger.Error("Failed to publish form",
				zap.String("form_type", name),
				zap.String("form_id", idOf(item).String()),
				zap.Error(err))
			continue
		}
		result.Published++
	}

	logger.Info("Completed refresh publication",
		zap.String("form_type", name),
		zap.Int("published", result.Published),
		zap.Int("total", result.Total))
	return result, nil
}

func publishOne[T any](ctx context.Context, item T, publish func(context.Context, T) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("publish panicked: %v", r)
		}
	}()
	return publish(ctx, item)
}
