//go:build wireinject
// +build wireinject

package daybreak

import (
	"context"

	"github.com/google/wire"

	"github.com/jirwin/daybreak/pkg/bot"
	"github.com/jirwin/daybreak/pkg/builtin_modules"
	"github.com/jirwin/daybreak/pkg/config"
	"github.com/jirwin/daybreak/pkg/data_store"
	"github.com/jirwin/daybreak/pkg/data_store/boltdb"
	"github.com/jirwin/daybreak/pkg/data_store/sqlite"
	"github.com/jirwin/daybreak/pkg/discord_manager"
	"github.com/jirwin/daybreak/pkg/httpclient"
	"github.com/jirwin/daybreak/pkg/module_manager"
	"github.com/jirwin/daybreak/pkg/uzap"
	"github.com/jirwin/daybreak/pkg/webhook_manager"
)

func NewDayBreak(ctx context.Context) (*bot.DayBreakBot, error) {
	wire.Build(
		uzap.Wired,
		httpclient.Wired,
		config.Wired,

		discord_manager.Wired,

		boltdb.Wired,
		wire.Bind(new(data_store.DataStore), new(*boltdb.BoltDbStore)),
		sqlite.Wired,

		webhook_manager.Wired,

		builtin_modules.Manifest,
		module_manager.Wired,

		bot.Wired,
	)
	return nil, nil
}
