package twitchnotifs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jirwin/daybreak/pkg/config"
	"github.com/jirwin/daybreak/pkg/notify"
)

type sentMessage struct {
	channel string
	msg     *discordgo.MessageSend
}

type fakeAnnouncer struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (f *fakeAnnouncer) Announce(chanID string, msg *discordgo.MessageSend, publish bool) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, sentMessage{channel: chanID, msg: msg})
	return &discordgo.Message{ChannelID: chanID}, nil
}

type fakeFetcher struct {
	mu      sync.Mutex
	streams map[string]Stream
}

func (f *fakeFetcher) set(s Stream) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streams[s.Login] = s
}

func (f *fakeFetcher) FetchStream(ctx context.Context, login string) (Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.streams[login]; ok {
		return s, nil
	}
	return Stream{Login: login}, nil
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
}

func newTestNotifier(t *testing.T) (*notifier, *fakeFetcher, *fakeAnnouncer) {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "modules", "TwitchNotifs.json"), `{"update_interval": 60}`)
	writeFile(t, filepath.Join(dir, "guilds", "100", "TwitchNotifs.json"), `{
		"notifications_channel_id": "500",
		"role_id": "42",
		"channels": ["Streamer", "other"],
		"format": {"text": "{role_mention} {channel_name} is live: {stream_url}"}
	}`)
	writeFile(t, filepath.Join(dir, "guilds", "200", "TwitchNotifs.json"), `{
		"notifications_channel_id": "600",
		"channels": ["other"],
		"format": {"embed": {"title": "{stream_title}", "thumbnail": "{stream_thumbnail_url}"}}
	}`)

	fetcher := &fakeFetcher{streams: map[string]Stream{}}
	announcer := &fakeAnnouncer{}
	n := &notifier{
		l:         zap.NewNop(),
		configs:   config.New(config.Config{ConfigsDir: dir}, zap.NewNop()),
		fetcher:   fetcher,
		announcer: announcer,
	}
	return n, fetcher, announcer
}

func TestNotifier_Channels(t *testing.T) {
	n, _, _ := newTestNotifier(t)

	channels, err := n.channels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"other", "streamer"}, channels)
}

func TestWentLive(t *testing.T) {
	offline := Stream{Login: "a"}
	live := Stream{Login: "a", Live: true, Title: "hi"}

	assert.Equal(t, []Stream{live}, wentLive("a", offline, live))
	assert.Empty(t, wentLive("a", live, live))
	assert.Empty(t, wentLive("a", live, offline))
	assert.Empty(t, wentLive("a", offline, offline))
}

func TestKeywords(t *testing.T) {
	s := Stream{
		Login:        "streamer",
		Live:         true,
		UserName:     "Streamer",
		Title:        "Speedrun",
		GameName:     "Celeste",
		Language:     "en",
		ThumbnailURL: "https://cdn/live_user_streamer-{width}x{height}.jpg",
		Tags:         []string{"English", "Speedrun"},
		IsMature:     true,
		StartedAt:    time.Date(2024, 8, 26, 12, 0, 31, 0, time.UTC),
	}

	kw := keywords("42", s)
	assert.Equal(t, "<@&42>", kw["role_mention"])
	assert.Equal(t, "Streamer", kw["channel_name"])
	assert.Equal(t, "https://twitch.tv/streamer", kw["stream_url"])
	assert.Equal(t, "https://cdn/live_user_streamer-640x360.jpg", kw["stream_thumbnail_url"])
	assert.Equal(t, "2024-08-26 12:00:31+00:00", kw["stream_start_date"])
	assert.Equal(t, "English, Speedrun", kw["stream_tags"])
	assert.Equal(t, "true", kw["stream_nsfw"])

	assert.Equal(t, "", keywords("", s)["role_mention"])
}

func TestNotifier_AnnouncesLiveTransition(t *testing.T) {
	n, fetcher, announcer := newTestNotifier(t)
	ctx := context.Background()

	fetcher.set(Stream{Login: "other", Live: true, Title: "already live"})

	p, err := notify.New(notify.Config{Name: "twitch-test"}, zap.NewNop(), nil, n.hooks(), nil)
	require.NoError(t, err)

	// seeding never announces, even for channels already live
	_, err = p.Poll(ctx)
	require.NoError(t, err)
	assert.Empty(t, announcer.sent)

	fetcher.set(Stream{Login: "streamer", Live: true, UserName: "Streamer", Title: "Speedrun"})
	res, err := p.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Announced)

	require.Len(t, announcer.sent, 1)
	assert.Equal(t, "500", announcer.sent[0].channel)
	assert.Equal(t, "<@&42> Streamer is live: https://twitch.tv/streamer", announcer.sent[0].msg.Content)

	// still live, nothing new
	_, err = p.Poll(ctx)
	require.NoError(t, err)
	assert.Len(t, announcer.sent, 1)

	fetcher.set(Stream{Login: "other"})
	_, err = p.Poll(ctx)
	require.NoError(t, err)
	fetcher.set(Stream{Login: "other", Live: true, Title: "back again"})
	_, err = p.Poll(ctx)
	require.NoError(t, err)

	require.Len(t, announcer.sent, 3)
	assert.Equal(t, "500", announcer.sent[1].channel)
	assert.Equal(t, "600", announcer.sent[2].channel)
	require.Len(t, announcer.sent[2].msg.Embeds, 1)
	assert.Equal(t, "back again", announcer.sent[2].msg.Embeds[0].Title)
}

func TestNotifier_FailedAnnouncementIsRetried(t *testing.T) {
	n, fetcher, announcer := newTestNotifier(t)
	ctx := context.Background()

	p, err := notify.New(notify.Config{Name: "twitch-retry"}, zap.NewNop(), nil, n.hooks(), nil)
	require.NoError(t, err)
	_, err = p.Poll(ctx)
	require.NoError(t, err)

	announcer.err = errors.New("gateway down")
	fetcher.set(Stream{Login: "streamer", Live: true})
	_, err = p.Poll(ctx)
	require.NoError(t, err)
	assert.False(t, p.Baseline()["streamer"].Live)

	announcer.err = nil
	res, err := p.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Announced)
	assert.True(t, p.Baseline()["streamer"].Live)
}

func TestHelixFetcher(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.Form.Get("grant_type"))
		assert.Equal(t, "id", r.Form.Get("client_id"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "apptoken",
			"token_type":   "bearer",
			"expires_in":   3600,
		})
	})
	mux.HandleFunc("/helix/streams", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer apptoken", r.Header.Get("Authorization"))
		assert.Equal(t, "id", r.Header.Get("Client-Id"))

		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("user_login") != "streamer" {
			_, _ = w.Write([]byte(`{"data": [], "pagination": {}}`))
			return
		}
		_, _ = w.Write([]byte(`{"data": [{
			"id": "1",
			"user_login": "streamer",
			"user_name": "Streamer",
			"game_name": "Celeste",
			"type": "live",
			"title": "Speedrun",
			"language": "en",
			"started_at": "2024-08-26T12:00:31Z",
			"thumbnail_url": "https://cdn/{width}x{height}.jpg",
			"tags": ["English"],
			"is_mature": false
		}], "pagination": {}}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	f, err := newHelixFetcher(context.Background(), Config{ClientID: "id", ClientSecret: "secret"}, srv.Client(), endpoints{
		TokenURL:   srv.URL + "/oauth2/token",
		APIBaseURL: srv.URL + "/helix",
	}, 10*time.Second)
	require.NoError(t, err)

	s, err := f.FetchStream(context.Background(), "streamer")
	require.NoError(t, err)
	assert.True(t, s.Live)
	assert.Equal(t, "Streamer", s.UserName)
	assert.Equal(t, "Celeste", s.GameName)
	assert.Equal(t, []string{"English"}, s.Tags)
	assert.Equal(t, "https://cdn/640x360.jpg", s.Thumbnail(640, 360))

	s, err = f.FetchStream(context.Background(), "nobody")
	require.NoError(t, err)
	assert.False(t, s.Live)
	assert.Equal(t, "nobody", s.Login)
}

func TestHelixFetcher_TimesOutHungRequest(t *testing.T) {
	release := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "apptoken",
			"token_type":   "bearer",
			"expires_in":   3600,
		})
	})
	mux.HandleFunc("/helix/streams", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	defer close(release)

	f, err := newHelixFetcher(context.Background(), Config{ClientID: "id", ClientSecret: "secret"}, srv.Client(), endpoints{
		TokenURL:   srv.URL + "/oauth2/token",
		APIBaseURL: srv.URL + "/helix",
	}, 100*time.Millisecond)
	require.NoError(t, err)

	start := time.Now()
	_, err = f.FetchStream(context.Background(), "streamer")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}
