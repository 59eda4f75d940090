package bot

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/jirwin/daybreak/pkg/config"
	"github.com/jirwin/daybreak/pkg/data_store"
	"github.com/jirwin/daybreak/pkg/discord_manager"
	"github.com/jirwin/daybreak/pkg/module_manager"
	"github.com/jirwin/daybreak/pkg/webhook_manager"
)

type Config struct {
	ShutdownTimeout time.Duration
}

func NewConfig() (Config, error) {
	return Config{
		ShutdownTimeout: 30 * time.Second,
	}, nil
}

type DayBreakBot struct {
	l              *zap.Logger
	c              Config
	configs        *config.Resolver
	discordManager discord_manager.Manager
	moduleManager  module_manager.Manager
	webhookManager webhook_manager.Manager
	dataStore      data_store.DataStore

	ctx    context.Context
	cancel context.CancelFunc
}

// Start verifies the config tree, opens the gateway and boots the modules.
func (d *DayBreakBot) Start(ctx context.Context) error {
	if err := d.configs.Check(); err != nil {
		d.l.Error("invalid config directory", zap.Error(err))
		return err
	}

	d.ctx, d.cancel = context.WithCancel(ctx)

	go d.webhookManager.Run(d.ctx)

	err := d.discordManager.Start(d.ctx)
	if err != nil {
		d.l.Error("error connecting to discord", zap.Error(err))
		return err
	}

	err = d.moduleManager.Boot(d.ctx)
	if err != nil {
		d.l.Error("error booting modules", zap.Error(err))
		return err
	}

	d.l.Info("daybreak started")
	return nil
}

// Done is closed when the gateway session ends.
func (d *DayBreakBot) Done() <-chan struct{} {
	return d.discordManager.Done()
}

func (d *DayBreakBot) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), d.c.ShutdownTimeout)
	defer cancel()

	if err := d.moduleManager.Shutdown(ctx); err != nil {
		d.l.Error("error unloading modules", zap.Error(err))
	}

	d.discordManager.Stop()
	d.dataStore.Close()

	if d.cancel != nil {
		d.cancel()
	}
	d.l.Info("daybreak stopped")
}

func New(
	c Config,
	l *zap.Logger,
	configs *config.Resolver,
	discordManager discord_manager.Manager,
	moduleManager module_manager.Manager,
	webhookManager webhook_manager.Manager,
	dataStore data_store.DataStore,
) (*DayBreakBot, error) {
	d := &DayBreakBot{
		c:              c,
		l:              l.Named("daybreak-bot"),
		configs:        configs,
		discordManager: discordManager,
		moduleManager:  moduleManager,
		webhookManager: webhookManager,
		dataStore:      dataStore,
	}

	return d, nil
}
