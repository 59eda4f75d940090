package discord_manager

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/jirwin/daybreak/pkg/notify"
)

// AnnouncementFormat is the config-driven shape of a notification message.
// Every string is a template with {keyword} placeholders.
type AnnouncementFormat struct {
	Text  string       `mapstructure:"text"`
	Embed *EmbedFormat `mapstructure:"embed"`
}

type EmbedFormat struct {
	Title       string        `mapstructure:"title"`
	Description string        `mapstructure:"description"`
	URL         string        `mapstructure:"url"`
	Color       string        `mapstructure:"color"`
	Thumbnail   string        `mapstructure:"thumbnail"`
	Image       string        `mapstructure:"image"`
	Author      string        `mapstructure:"author"`
	AuthorURL   string        `mapstructure:"author_url"`
	Footer      string        `mapstructure:"footer"`
	Fields      []FieldFormat `mapstructure:"fields"`
}

type FieldFormat struct {
	Name   string `mapstructure:"name"`
	Value  string `mapstructure:"value"`
	Inline bool   `mapstructure:"inline"`
}

// ParseColor parses "#rrggbb" (the leading # is optional).
func ParseColor(s string) (int, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) != 6 {
		return 0, fmt.Errorf("invalid color %q", s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid color %q: %w", s, err)
	}
	return int(v), nil
}

// BuildAnnouncement renders f with keywords. Role mentions in the text are allowed to ping.
func BuildAnnouncement(f AnnouncementFormat, keywords map[string]string) (*discordgo.MessageSend, error) {
	msg := &discordgo.MessageSend{
		Content: notify.Format(f.Text, keywords),
		AllowedMentions: &discordgo.MessageAllowedMentions{
			Parse: []discordgo.AllowedMentionType{discordgo.AllowedMentionTypeRoles},
		},
	}

	if f.Embed != nil {
		e := f.Embed
		embed := &discordgo.MessageEmbed{
			Title:       notify.Format(e.Title, keywords),
			Description: notify.Format(e.Description, keywords),
			URL:         notify.Format(e.URL, keywords),
		}
		if e.Color != "" {
			color, err := ParseColor(e.Color)
			if err != nil {
				return nil, err
			}
			embed.Color = color
		}
		if e.Thumbnail != "" {
			embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: notify.Format(e.Thumbnail, keywords)}
		}
		if e.Image != "" {
			embed.Image = &discordgo.MessageEmbedImage{URL: notify.Format(e.Image, keywords)}
		}
		if e.Author != "" {
			embed.Author = &discordgo.MessageEmbedAuthor{
				Name: notify.Format(e.Author, keywords),
				URL:  notify.Format(e.AuthorURL, keywords),
			}
		}
		if e.Footer != "" {
			embed.Footer = &discordgo.MessageEmbedFooter{Text: notify.Format(e.Footer, keywords)}
		}
		for _, field := range e.Fields {
			embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
				Name:   notify.Format(field.Name, keywords),
				Value:  notify.Format(field.Value, keywords),
				Inline: field.Inline,
			})
		}
		msg.Embeds = []*discordgo.MessageEmbed{embed}
	}

	if msg.Content == "" && len(msg.Embeds) == 0 {
		return nil, errors.New("announcement format renders an empty message")
	}

	return msg, nil
}
