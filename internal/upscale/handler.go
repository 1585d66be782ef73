package upscale

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"imagine-manager/internal/model"
	"imagine-manager/internal/queue"
)

type Upscaler interface {
	UpscaleVideo(ctx context.Context, videoID string) (map[string]any, error)
}

// NewHandler submits one upscale request per queue item. The item's key is
// the video id unless the payload names one explicitly.
func NewHandler(u Upscaler, logger *zap.Logger) queue.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return queue.HandlerFunc(func(ctx context.Context, item model.QueueItem, _ queue.StepFunc) error {
		videoID := strings.TrimSpace(item.Payload.VideoID)
		if videoID == "" {
			videoID = item.Key
		}
		resp, err := u.UpscaleVideo(ctx, videoID)
		if err != nil {
			return fmt.Errorf("upscale %s: %w", videoID, err)
		}
		if resp == nil {
			logger.Debug("upscale accepted without a readable body", zap.String("video_id", videoID))
		}
		return nil
	})
}

// VideoItems turns video ids into upscale queue items.
func VideoItems(postID string, videoIDs []string) []model.QueueItem {
	out := make([]model.QueueItem, 0, len(videoIDs))
	for _, id := range videoIDs {
		out = append(out, model.QueueItem{
			Key:     id,
			Payload: model.Payload{VideoID: id, PostID: postID},
		})
	}
	return out
}
