package discord_manager

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseColor(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{in: "#6441a5", want: 0x6441a5},
		{in: "ff0000", want: 0xff0000},
		{in: "#fff", wantErr: true},
		{in: "#zzzzzz", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseColor(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuildAnnouncement(t *testing.T) {
	kw := map[string]string{
		"role_mention": "<@&42>",
		"channel_name": "daybreak",
		"stream_url":   "https://twitch.tv/daybreak",
		"stream_title": "speedruns",
	}

	msg, err := BuildAnnouncement(AnnouncementFormat{
		Text: "{role_mention} {channel_name} is live!",
		Embed: &EmbedFormat{
			Title:     "{stream_title}",
			URL:       "{stream_url}",
			Color:     "#6441a5",
			Thumbnail: "{stream_url}/thumb",
			Fields:    []FieldFormat{{Name: "Channel", Value: "{channel_name}", Inline: true}},
		},
	}, kw)
	require.NoError(t, err)

	assert.Equal(t, "<@&42> daybreak is live!", msg.Content)
	require.Len(t, msg.Embeds, 1)
	e := msg.Embeds[0]
	assert.Equal(t, "speedruns", e.Title)
	assert.Equal(t, "https://twitch.tv/daybreak", e.URL)
	assert.Equal(t, 0x6441a5, e.Color)
	require.NotNil(t, e.Thumbnail)
	assert.Equal(t, "https://twitch.tv/daybreak/thumb", e.Thumbnail.URL)
	require.Len(t, e.Fields, 1)
	assert.Equal(t, "daybreak", e.Fields[0].Value)
	assert.True(t, e.Fields[0].Inline)

	_, err = BuildAnnouncement(AnnouncementFormat{}, kw)
	require.Error(t, err)

	_, err = BuildAnnouncement(AnnouncementFormat{Embed: &EmbedFormat{Title: "x", Color: "nope"}}, kw)
	require.Error(t, err)
}
