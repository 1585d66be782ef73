package media

import (
	"strings"

	"imagine-manager/internal/model"
)

const (
	TypeVideo      = "MEDIA_POST_TYPE_VIDEO"
	TypeImage      = "MEDIA_POST_TYPE_IMAGE"
	shortTypeVideo = "VIDEO"
	shortTypeImage = "IMAGE"
)

// Process partitions a post's child media into download URLs and videos
// that still need an HD upscale. It never fails; a post without children
// yields an empty summary.
func Process(post *model.Post) model.PostMediaSummary {
	summary := model.PostMediaSummary{
		URLs:            []string{},
		VideosToUpscale: []string{},
	}
	if post == nil {
		return summary
	}

	seenURL := make(map[string]bool, len(post.ChildPosts))
	seenVideo := make(map[string]bool, len(post.ChildPosts))
	for _, child := range post.ChildPosts {
		if u := DownloadURL(child); u != "" && !seenURL[u] {
			seenURL[u] = true
			summary.URLs = append(summary.URLs, u)
		}

		if !IsVideo(child.MediaType) {
			continue
		}
		hd := strings.TrimSpace(child.HDMediaURL)
		if hd != "" {
			summary.HDVideoCount++
			continue
		}
		id := strings.TrimSpace(child.ID)
		if id == "" || seenVideo[id] {
			continue
		}
		seenVideo[id] = true
		summary.VideosToUpscale = append(summary.VideosToUpscale, id)
	}
	return summary
}

// DownloadURL returns the best available URL for a child item:
// HD, then standard media, then thumbnail.
func DownloadURL(child model.ChildPost) string {
	for _, candidate := range []string{child.HDMediaURL, child.MediaURL, child.ThumbnailImageURL} {
		if v := strings.TrimSpace(candidate); v != "" {
			return v
		}
	}
	return ""
}

func IsVideo(mediaType string) bool {
	switch strings.ToUpper(strings.TrimSpace(mediaType)) {
	case TypeVideo, shortTypeVideo:
		return true
	default:
		return false
	}
}

func IsImage(mediaType string) bool {
	switch strings.ToUpper(strings.TrimSpace(mediaType)) {
	case TypeImage, shortTypeImage:
		return true
	default:
		return false
	}
}
