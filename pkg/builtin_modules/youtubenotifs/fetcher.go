package youtubenotifs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"
)

type Config struct {
	APIKey string
}

func NewConfig() (Config, error) {
	key := os.Getenv("YOUTUBE_API_KEY")
	if key == "" {
		return Config{}, errors.New("YOUTUBE_API_KEY must be set")
	}
	return Config{APIKey: key}, nil
}

type Video struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Description  string `json:"description,omitempty"`
	PublishedAt  string `json:"published_at,omitempty"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
}

func (v Video) URL() string {
	return "https://www.youtube.com/watch?v=" + v.ID
}

// Uploads holds a channel's latest uploads, most recent first.
type Uploads struct {
	ChannelTitle string  `json:"channel_title"`
	Videos       []Video `json:"videos"`
}

func (u Uploads) IDs() []string {
	out := make([]string, 0, len(u.Videos))
	for _, v := range u.Videos {
		out = append(out, v.ID)
	}
	return out
}

type UploadsFetcher interface {
	FetchUploads(ctx context.Context, channelID string, depth int64) (Uploads, error)
}

type channelInfo struct {
	title   string
	uploads string
}

type youtubeFetcher struct {
	svc *youtube.Service

	mu       sync.Mutex
	channels map[string]channelInfo
}

func newYouTubeFetcher(ctx context.Context, c Config, opts ...option.ClientOption) (*youtubeFetcher, error) {
	opts = append([]option.ClientOption{option.WithAPIKey(c.APIKey)}, opts...)
	svc, err := youtube.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create youtube service: %w", err)
	}

	return &youtubeFetcher{
		svc:      svc,
		channels: make(map[string]channelInfo),
	}, nil
}

// channel resolves the uploads playlist of a channel. Results are cached for the fetcher's lifetime.
func (f *youtubeFetcher) channel(ctx context.Context, channelID string) (channelInfo, error) {
	f.mu.Lock()
	info, ok := f.channels[channelID]
	f.mu.Unlock()
	if ok {
		return info, nil
	}

	resp, err := f.svc.Channels.List([]string{"snippet", "contentDetails"}).Id(channelID).Context(ctx).Do()
	if err != nil {
		return channelInfo{}, err
	}
	if len(resp.Items) == 0 {
		return channelInfo{}, fmt.Errorf("youtube channel %s not found", channelID)
	}

	item := resp.Items[0]
	if item.ContentDetails == nil || item.ContentDetails.RelatedPlaylists == nil || item.ContentDetails.RelatedPlaylists.Uploads == "" {
		return channelInfo{}, fmt.Errorf("youtube channel %s has no uploads playlist", channelID)
	}
	info = channelInfo{uploads: item.ContentDetails.RelatedPlaylists.Uploads}
	if item.Snippet != nil {
		info.title = item.Snippet.Title
	}

	f.mu.Lock()
	f.channels[channelID] = info
	f.mu.Unlock()

	return info, nil
}

func thumbnailURL(t *youtube.ThumbnailDetails) string {
	if t == nil {
		return ""
	}
	for _, th := range []*youtube.Thumbnail{t.Maxres, t.Standard, t.High, t.Medium, t.Default} {
		if th != nil && th.Url != "" {
			return th.Url
		}
	}
	return ""
}

func (f *youtubeFetcher) FetchUploads(ctx context.Context, channelID string, depth int64) (Uploads, error) {
	info, err := f.channel(ctx, channelID)
	if err != nil {
		return Uploads{}, err
	}

	resp, err := f.svc.PlaylistItems.List([]string{"snippet", "contentDetails"}).
		PlaylistId(info.uploads).
		MaxResults(depth).
		Context(ctx).
		Do()
	if err != nil {
		return Uploads{}, err
	}

	out := Uploads{ChannelTitle: info.title}
	for _, item := range resp.Items {
		sn := item.Snippet
		if sn == nil || sn.ResourceId == nil || sn.ResourceId.VideoId == "" {
			continue
		}
		if out.ChannelTitle == "" {
			out.ChannelTitle = sn.ChannelTitle
		}
		out.Videos = append(out.Videos, Video{
			ID:           sn.ResourceId.VideoId,
			Title:        sn.Title,
			Description:  sn.Description,
			PublishedAt:  sn.PublishedAt,
			ThumbnailURL: thumbnailURL(sn.Thumbnails),
		})
	}

	return out, nil
}
