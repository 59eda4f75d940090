package twitchnotifs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/nicklaw5/helix/v2"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

type endpoints struct {
	TokenURL   string
	APIBaseURL string
}

var twitchEndpoints = endpoints{
	TokenURL:   "https://id.twitch.tv/oauth2/token",
	APIBaseURL: "https://api.twitch.tv/helix",
}

type Config struct {
	ClientID     string
	ClientSecret string
}

func NewConfig() (Config, error) {
	c := Config{
		ClientID:     os.Getenv("TWITCH_CLIENT_ID"),
		ClientSecret: os.Getenv("TWITCH_CLIENT_SECRET"),
	}
	if c.ClientID == "" || c.ClientSecret == "" {
		return Config{}, errors.New("TWITCH_CLIENT_ID and TWITCH_CLIENT_SECRET must be set")
	}
	return c, nil
}

// Stream is the state of one Twitch channel. An offline channel only has Login set.
type Stream struct {
	Login        string    `json:"login"`
	Live         bool      `json:"live"`
	UserName     string    `json:"user_name,omitempty"`
	Title        string    `json:"title,omitempty"`
	GameName     string    `json:"game_name,omitempty"`
	Language     string    `json:"language,omitempty"`
	ThumbnailURL string    `json:"thumbnail_url,omitempty"`
	Tags         []string  `json:"tags,omitempty"`
	IsMature     bool      `json:"is_mature,omitempty"`
	StartedAt    time.Time `json:"started_at,omitempty"`
}

// Thumbnail fills the size placeholders of the stream's thumbnail template.
func (s Stream) Thumbnail(width, height int) string {
	r := strings.NewReplacer("{width}", fmt.Sprint(width), "{height}", fmt.Sprint(height))
	return r.Replace(s.ThumbnailURL)
}

type StreamFetcher interface {
	FetchStream(ctx context.Context, login string) (Stream, error)
}

type helixFetcher struct {
	client *helix.Client
}

func (f *helixFetcher) FetchStream(ctx context.Context, login string) (Stream, error) {
	resp, err := f.client.GetStreams(&helix.StreamsParams{
		UserLogins: []string{login},
		First:      1,
	})
	if err != nil {
		return Stream{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return Stream{}, fmt.Errorf("helix: get streams for %s: %d %s", login, resp.StatusCode, resp.ErrorMessage)
	}

	s := Stream{Login: login}
	for _, st := range resp.Data.Streams {
		if st.Type != "live" {
			continue
		}
		s.Live = true
		s.UserName = st.UserName
		s.Title = st.Title
		s.GameName = st.GameName
		s.Language = st.Language
		s.ThumbnailURL = st.ThumbnailURL
		s.Tags = st.Tags
		s.IsMature = st.IsMature
		s.StartedAt = st.StartedAt
		break
	}

	return s, nil
}

// newHelixFetcher builds a fetcher authenticated with an app access token.
// The token source refreshes the token on its own. GetStreams takes no context,
// so timeout is what ends a hung request.
func newHelixFetcher(ctx context.Context, c Config, httpClient *http.Client, e endpoints, timeout time.Duration) (*helixFetcher, error) {
	cc := &clientcredentials.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		TokenURL:     e.TokenURL,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	if httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)
	}

	apiClient := cc.Client(ctx)
	apiClient.Timeout = timeout

	client, err := helix.NewClient(&helix.Options{
		ClientID:   c.ClientID,
		HTTPClient: apiClient,
		APIBaseURL: e.APIBaseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create helix client: %w", err)
	}

	return &helixFetcher{client: client}, nil
}
