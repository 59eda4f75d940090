package module_manager

import (
	"context"
	"sync"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/jirwin/daybreak/pkg/config"
	"github.com/jirwin/daybreak/pkg/data_store/boltdb"
	"github.com/jirwin/daybreak/pkg/data_store/sqlite"
	"github.com/jirwin/daybreak/pkg/discord_manager"
	"github.com/jirwin/daybreak/pkg/notify"
)

// Registry is the part of the module manager exposed to modules.
type Registry interface {
	Load(ctx context.Context, name string) error
	Unload(ctx context.Context, name string) error
	Reload(ctx context.Context, name string) error
	ReloadSelf(ctx context.Context) error
	List() []ModuleDescriptor
	SyncCommands() error
	IsPresent(name string) bool
	HostModule() string
}

type ModuleHelper interface {
	Name() string
	Logger() *zap.Logger
	Clock() clockwork.Clock
	Discord() discord_manager.Manager
	Store() boltdb.ModuleStore
	SnapshotStore(poller string) notify.SnapshotStore
	Database() *sqlite.Adapter
	Configs() *config.Resolver
	ModuleConfig() (*config.Tree, error)
	GuildConfig(guildID string) (*config.Tree, bool, error)
	Registry() Registry
	SetErrorResponder(r ErrorResponder)
	// Go runs fn until the module is unloaded. Unload waits for fn to return.
	Go(fn func(ctx context.Context))
}

type moduleHelper struct {
	m    *ManagerImpl
	name string
	l    *zap.Logger
	db   *sqlite.Adapter
	ctx  context.Context
	wg   *sync.WaitGroup
}

func (h *moduleHelper) Name() string {
	return h.name
}

func (h *moduleHelper) Logger() *zap.Logger {
	return h.l
}

func (h *moduleHelper) Clock() clockwork.Clock {
	return h.m.clock
}

func (h *moduleHelper) Discord() discord_manager.Manager {
	return h.m.discord
}

func (h *moduleHelper) Store() boltdb.ModuleStore {
	return h.m.dataStore.GetStore(h.name)
}

func (h *moduleHelper) SnapshotStore(poller string) notify.SnapshotStore {
	return h.m.dataStore.SnapshotStore(h.name + "/" + poller)
}

func (h *moduleHelper) Database() *sqlite.Adapter {
	return h.db
}

func (h *moduleHelper) Configs() *config.Resolver {
	return h.m.configs
}

func (h *moduleHelper) ModuleConfig() (*config.Tree, error) {
	return h.m.configs.LoadModuleConfig(h.name)
}

// GuildConfig resolves the guild's settings over the module defaults.
func (h *moduleHelper) GuildConfig(guildID string) (*config.Tree, bool, error) {
	return h.m.configs.ResolveGuild(guildID, h.name)
}

func (h *moduleHelper) Registry() Registry {
	return h.m
}

func (h *moduleHelper) SetErrorResponder(r ErrorResponder) {
	h.m.setErrorResponder(r)
}

func (h *moduleHelper) Go(fn func(ctx context.Context)) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				h.l.Error("panic in module task", zap.Any("panic", r))
			}
		}()
		fn(h.ctx)
	}()
}
