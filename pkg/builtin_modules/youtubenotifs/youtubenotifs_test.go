package youtubenotifs

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/jirwin/daybreak/pkg/config"
	"github.com/jirwin/daybreak/pkg/notify"
)

type fakeAnnouncer struct {
	mu   sync.Mutex
	sent []*discordgo.MessageSend
}

func (f *fakeAnnouncer) Announce(chanID string, msg *discordgo.MessageSend, publish bool) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return &discordgo.Message{ChannelID: chanID}, nil
}

type fakeFetcher struct {
	mu      sync.Mutex
	uploads map[string]Uploads
}

func (f *fakeFetcher) set(channelID string, title string, ids ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := Uploads{ChannelTitle: title}
	for _, id := range ids {
		u.Videos = append(u.Videos, Video{ID: id, Title: "video " + id})
	}
	f.uploads[channelID] = u
}

func (f *fakeFetcher) FetchUploads(ctx context.Context, channelID string, depth int64) (Uploads, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uploads[channelID], nil
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
}

func TestModuleConfigDefaults(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "modules", "YouTubeNotifs.json"), `{"depth": 10}`)
	r := config.New(config.Config{ConfigsDir: dir}, zap.NewNop())

	tree, err := r.LoadModuleConfig(Name)
	require.NoError(t, err)
	mc := defaultModuleConfig()
	require.NoError(t, tree.Decode(&mc))

	assert.Equal(t, int64(10), mc.Depth)
	assert.Equal(t, 1, mc.Offset)
	assert.Equal(t, 600, mc.UpdateInterval)
}

func TestNotifier_AnnouncesNewUploads(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "modules", "YouTubeNotifs.json"), `{}`)
	writeFile(t, filepath.Join(dir, "guilds", "100", "YouTubeNotifs.json"), `{
		"notifications_channel_id": "500",
		"role_id": "7",
		"channels": ["UC1"],
		"format": {"text": "{role_mention} {channel_name}: {video_title} {video_url}"}
	}`)

	fetcher := &fakeFetcher{uploads: map[string]Uploads{}}
	announcer := &fakeAnnouncer{}
	n := &notifier{
		l:         zap.NewNop(),
		c:         defaultModuleConfig(),
		configs:   config.New(config.Config{ConfigsDir: dir}, zap.NewNop()),
		fetcher:   fetcher,
		announcer: announcer,
	}
	p, err := notify.New(n.c.pollerConfig(), zap.NewNop(), nil, n.hooks(), nil)
	require.NoError(t, err)
	ctx := context.Background()

	fetcher.set("UC1", "Chan", "c", "b", "a")
	_, err = p.Poll(ctx)
	require.NoError(t, err)
	assert.Empty(t, announcer.sent)

	fetcher.set("UC1", "Chan", "e", "d", "c", "b", "a")
	res, err := p.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Announced)
	require.Len(t, announcer.sent, 2)
	assert.Equal(t, "<@&7> Chan: video d https://www.youtube.com/watch?v=d", announcer.sent[0].Content)
	assert.Equal(t, "<@&7> Chan: video e https://www.youtube.com/watch?v=e", announcer.sent[1].Content)

	// "e" deleted: an old video slides into the window but sits inside the offset
	fetcher.set("UC1", "Chan", "d", "c", "b", "a", "z")
	res, err = p.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Announced)
}

func TestYouTubeFetcher(t *testing.T) {
	var channelCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/youtube/v3/channels", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&channelCalls, 1)
		assert.Equal(t, "key", r.URL.Query().Get("key"))
		assert.Equal(t, "UC1", r.URL.Query().Get("id"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items": [{
			"id": "UC1",
			"snippet": {"title": "Chan"},
			"contentDetails": {"relatedPlaylists": {"uploads": "UU1"}}
		}]}`))
	})
	mux.HandleFunc("/youtube/v3/playlistItems", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "UU1", r.URL.Query().Get("playlistId"))
		assert.Equal(t, "2", r.URL.Query().Get("maxResults"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items": [
			{"snippet": {
				"title": "Newest",
				"description": "desc",
				"publishedAt": "2024-08-26T12:00:31Z",
				"thumbnails": {"default": {"url": "https://i/default.jpg"}, "high": {"url": "https://i/high.jpg"}},
				"resourceId": {"kind": "youtube#video", "videoId": "v2"}
			}},
			{"snippet": {
				"title": "Older",
				"resourceId": {"kind": "youtube#video", "videoId": "v1"}
			}}
		]}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	f, err := newYouTubeFetcher(context.Background(), Config{APIKey: "key"}, option.WithEndpoint(srv.URL+"/"))
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		u, err := f.FetchUploads(context.Background(), "UC1", 2)
		require.NoError(t, err)
		assert.Equal(t, "Chan", u.ChannelTitle)
		assert.Equal(t, []string{"v2", "v1"}, u.IDs())
		assert.Equal(t, "https://i/high.jpg", u.Videos[0].ThumbnailURL)
		assert.Equal(t, "2024-08-26T12:00:31Z", u.Videos[0].PublishedAt)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&channelCalls))
}
