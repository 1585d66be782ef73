package model

import "time"

const QueueSchemaVersion = 1

// QueueItem is one unit of deferred work inside a queue.
type QueueItem struct {
	Key            string    `json:"key"`
	Payload        Payload   `json:"payload"`
	Status         string    `json:"status"`
	Error          string    `json:"error,omitempty"`
	AddedAt        time.Time `json:"added_at"`
	ProcessedItems int       `json:"processed_items,omitempty"`
	TotalItems     int       `json:"total_items,omitempty"`
	Progress       float64   `json:"progress,omitempty"`
}

type Payload struct {
	VideoID  string   `json:"video_id,omitempty"`
	PostID   string   `json:"post_id,omitempty"`
	URL      string   `json:"url,omitempty"`
	Filename string   `json:"filename,omitempty"`
	PostIDs  []string `json:"post_ids,omitempty"`
	Action   string   `json:"action,omitempty"`
}

// PersistedQueue is the durable form of a queue. Only the item list is kept.
type PersistedQueue struct {
	SchemaVersion int         `json:"schema_version"`
	SavedAt       string      `json:"saved_at"`
	Items         []QueueItem `json:"items"`
}

type QueueCounts struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

func CountItems(items []QueueItem) QueueCounts {
	c := QueueCounts{Total: len(items)}
	for _, it := range items {
		switch it.Status {
		case StatusPending:
			c.Pending++
		case StatusProcessing:
			c.Processing++
		case StatusCompleted:
			c.Completed++
		case StatusFailed:
			c.Failed++
		}
	}
	return c
}

// Post is the subset of a remote media post the tooling reads.
type Post struct {
	ID         string      `json:"id"`
	Prompt     string      `json:"prompt,omitempty"`
	MediaType  string      `json:"mediaType,omitempty"`
	ChildPosts []ChildPost `json:"childPosts,omitempty"`
}

type ChildPost struct {
	ID                string `json:"id,omitempty"`
	MediaType         string `json:"mediaType,omitempty"`
	MediaURL          string `json:"mediaUrl,omitempty"`
	HDMediaURL        string `json:"hdMediaUrl,omitempty"`
	ThumbnailImageURL string `json:"thumbnailImageUrl,omitempty"`
}

type PostMediaSummary struct {
	URLs            []string `json:"urls"`
	VideosToUpscale []string `json:"videos_to_upscale"`
	HDVideoCount    int      `json:"hd_video_count"`
}
