// Package karma keeps a per-guild score for anything members write as "thing++" or "thing--".
package karma

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/jirwin/daybreak/pkg/data_store/boltdb"
	"github.com/jirwin/daybreak/pkg/module_manager"
)

const (
	Name = "Karma"

	leaderboardSize = 10
)

var (
	ppRegex = regexp.MustCompile(`^(.+)\+\+$`)
	mmRegex = regexp.MustCompile(`^(.+)--$`)
)

type karma struct {
	l     *zap.Logger
	store boltdb.ModuleStore
}

func (k *karma) GetName() string {
	return Name
}

func (k *karma) Start(ctx context.Context, helper module_manager.ModuleHelper) error {
	k.l = helper.Logger()
	k.store = helper.Store()
	return nil
}

func key(guildID, item string) string {
	return guildID + "/" + strings.ToLower(item)
}

func (k *karma) add(guildID, item string, delta int) error {
	return k.store.GetAndUpdate(key(guildID, item), func(val []byte) ([]byte, error) {
		score := 0
		if val != nil {
			var err error
			score, err = strconv.Atoi(string(val))
			if err != nil {
				return nil, err
			}
		}
		return []byte(strconv.Itoa(score + delta)), nil
	})
}

func (k *karma) score(guildID, item string) (int, error) {
	score := 0
	err := k.store.Get(key(guildID, item), func(val []byte) error {
		if val == nil {
			return nil
		}
		var err error
		score, err = strconv.Atoi(string(val))
		return err
	})
	return score, err
}

// onMessage applies every ++/-- token in the message. Members cannot bump themselves.
func (k *karma) onMessage(m *discordgo.MessageCreate) {
	if m.GuildID == "" || m.Author == nil || m.Author.Bot {
		return
	}
	self := "<@" + m.Author.ID + ">"

	for _, t := range strings.Fields(m.Content) {
		delta := 0
		var match []string
		if match = ppRegex.FindStringSubmatch(t); match != nil {
			delta = 1
		} else if match = mmRegex.FindStringSubmatch(t); match != nil {
			delta = -1
		} else {
			continue
		}

		item := match[1]
		if item == self || item == "<@!"+m.Author.ID+">" {
			continue
		}
		if err := k.add(m.GuildID, item, delta); err != nil {
			k.l.Error("error updating karma", zap.String("token", t), zap.Error(err))
		}
	}
}

type entry struct {
	Item  string
	Score int
}

// leaderboard returns the guild's highest scores, best first.
func (k *karma) leaderboard(guildID string, n int) ([]entry, error) {
	prefix := guildID + "/"
	var out []entry
	err := k.store.ForEach(func(key string, value []byte) error {
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		score, err := strconv.Atoi(string(value))
		if err != nil {
			return nil
		}
		out = append(out, entry{Item: strings.TrimPrefix(key, prefix), Score: score})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Item < out[j].Item
	})
	if len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (k *karma) scoreCommand(ctx context.Context, msg *module_manager.CommandMsg) *module_manager.CommandResp {
	opt, ok := msg.Options()["item"]
	if !ok || strings.TrimSpace(opt.StringValue()) == "" {
		return module_manager.Fail(&module_manager.UserInputError{Message: "I need a name to look up the score for."})
	}
	item := strings.TrimSpace(opt.StringValue())

	score, err := k.score(msg.GuildID(), item)
	if err != nil {
		return module_manager.Fail(err)
	}

	return &module_manager.CommandResp{
		Text: fmt.Sprintf("Score for %s is %d", item, score),
	}
}

func (k *karma) topCommand(ctx context.Context, msg *module_manager.CommandMsg) *module_manager.CommandResp {
	top, err := k.leaderboard(msg.GuildID(), leaderboardSize)
	if err != nil {
		return module_manager.Fail(err)
	}

	embed := &discordgo.MessageEmbed{
		Title: "Karma leaderboard",
		Color: 0xf1c40f,
	}
	if len(top) == 0 {
		embed.Description = "Nobody has any karma yet."
	}
	var lines []string
	for i, e := range top {
		lines = append(lines, fmt.Sprintf("%d. %s: %d", i+1, e.Item, e.Score))
	}
	if len(lines) > 0 {
		embed.Description = strings.Join(lines, "\n")
	}

	return &module_manager.CommandResp{Embeds: []*discordgo.MessageEmbed{embed}}
}

func (k *karma) GetCommands() []module_manager.Command {
	return []module_manager.Command{
		module_manager.MakeCommandFunc(&discordgo.ApplicationCommand{
			Name:        "karma",
			Description: "Show the karma score of something",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "item",
					Description: "What to look up",
					Required:    true,
				},
			},
		}, k.scoreCommand),
		module_manager.MakeCommandFunc(&discordgo.ApplicationCommand{
			Name:        "karma-top",
			Description: "Show the karma leaderboard",
		}, k.topCommand),
	}
}

func (k *karma) GetHooks() []module_manager.Hook {
	return []module_manager.Hook{
		module_manager.MakeHook(func(ctx context.Context, hookChan <-chan *module_manager.HookMsg) {
			for {
				select {
				case msg := <-hookChan:
					if msg.Message == nil {
						continue
					}
					k.onMessage(msg.Message)
				case <-ctx.Done():
					return
				}
			}
		}),
	}
}

func Register() module_manager.Module {
	return &karma{}
}
