package module_manager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/jonboulle/clockwork"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/jirwin/daybreak/pkg/config"
	"github.com/jirwin/daybreak/pkg/data_store"
	"github.com/jirwin/daybreak/pkg/data_store/sqlite"
	"github.com/jirwin/daybreak/pkg/discord_manager"
	"github.com/jirwin/daybreak/pkg/webhook_manager"
)

const modulesConfigName = "modules"

type Config struct {
	// HostModule is the static module that owns the lifecycle commands.
	HostModule string
	// StaticModules are loaded before everything else, in order, and can never be unloaded.
	StaticModules []string
}

func NewConfig() (Config, error) {
	c := Config{
		HostModule:    "Core",
		StaticModules: []string{"ExceptionHandler"},
	}

	if statics := os.Getenv("DAYBREAK_STATIC_MODULES"); statics != "" {
		c.StaticModules = strings.Split(statics, ",")
	}

	return c, nil
}

type Manager interface {
	Registry
	Boot(ctx context.Context) error
	Discover() []string
	LoadConfig() error
	LoadAllQueued(ctx context.Context) error
	ReloadAll(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

type loadedModule struct {
	name     string
	module   Module
	helper   *moduleHelper
	cancel   context.CancelFunc
	wg       *sync.WaitGroup
	commands []Command
	hooks    []Hook
}

type ManagerImpl struct {
	c              Config
	l              *zap.Logger
	clock          clockwork.Clock
	manifest       Manifest
	discord        discord_manager.Manager
	dataStore      data_store.DataStore
	configs        *config.Resolver
	sqliteConfig   sqlite.Config
	webhookManager webhook_manager.Manager

	ctx context.Context

	mu             sync.RWMutex
	present        map[string]struct{}
	static         map[string]struct{}
	queued         []string
	running        map[string]*loadedModule
	reloading      map[string]chan struct{}
	commands       map[string]*registeredCommand
	hooks          []*registeredHook
	errorResponder ErrorResponder

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

func (m *ManagerImpl) HostModule() string {
	return m.c.HostModule
}

func (m *ManagerImpl) lockFor(name string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()

	l, ok := m.locks[name]
	if !ok {
		l = &sync.Mutex{}
		m.locks[name] = l
	}
	return l
}

// Discover returns the names of the modules available in the manifest.
func (m *ManagerImpl) Discover() []string {
	names := make([]string, 0, len(m.manifest))
	present := make(map[string]struct{}, len(m.manifest))
	for name, factory := range m.manifest {
		if factory == nil {
			m.l.Warn("skipping malformed manifest entry", zap.String("module", name))
			continue
		}
		names = append(names, name)
		present[name] = struct{}{}
	}
	sort.Strings(names)

	m.mu.Lock()
	m.present = present
	m.mu.Unlock()

	return names
}

func (m *ManagerImpl) IsPresent(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.present[name]
	return ok
}

func (m *ManagerImpl) isRunning(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.running[name]
	return ok
}

func (m *ManagerImpl) isStatic(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.static[name]
	return ok
}

// queue adds name to the load queue unless it is running or already queued.
func (m *ManagerImpl) queue(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.running[name]; ok {
		return
	}
	for _, q := range m.queued {
		if q == name {
			return
		}
	}
	m.queued = append(m.queued, name)
}

func (m *ManagerImpl) dequeue(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := m.queued[:0]
	for _, q := range m.queued {
		if q != name {
			out = append(out, q)
		}
	}
	m.queued = out
}

// LoadConfig rediscovers the manifest and queues the modules listed as active_modules.
func (m *ManagerImpl) LoadConfig() error {
	m.Discover()

	tree, err := m.configs.LoadModuleConfig(modulesConfigName)
	if err != nil {
		return err
	}
	active, err := tree.StringSlice("active_modules")
	if err != nil {
		return err
	}

	for _, name := range active {
		if !m.IsPresent(name) {
			m.l.Warn("ignoring unknown active module", zap.String("module", name))
			continue
		}
		m.queue(name)
	}

	return nil
}

// Load starts a present module that is not running.
func (m *ManagerImpl) Load(ctx context.Context, name string) error {
	if !m.IsPresent(name) {
		return m.fail("load", name, ErrNotFound)
	}

	lock := m.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	return m.load(ctx, name, "load")
}

func (m *ManagerImpl) load(ctx context.Context, name string, op string) error {
	if m.isRunning(name) {
		return m.fail(op, name, ErrAlreadyLoaded)
	}
	defer m.dequeue(name)

	factory := m.manifest[name]
	mod := factory()
	if mod == nil {
		return m.fail(op, name, errors.New("factory returned no module"))
	}

	if err := m.dataStore.InitModuleBucket(name); err != nil {
		return m.fail(op, name, err)
	}

	modCtx, cancel := context.WithCancel(m.ctx)
	lm := &loadedModule{
		name:   name,
		module: mod,
		cancel: cancel,
		wg:     &sync.WaitGroup{},
	}
	lm.helper = &moduleHelper{
		m:    m,
		name: name,
		l:    m.l.Named("module-" + strings.ToLower(name)),
		db:   sqlite.NewAdapter(m.sqliteConfig, m.l, name),
		ctx:  modCtx,
		wg:   lm.wg,
	}

	if sm, ok := mod.(StartModule); ok {
		if err := sm.Start(modCtx, lm.helper); err != nil {
			m.teardown(ctx, lm, false)
			return m.fail(op, name, err)
		}
	}

	if cm, ok := mod.(CommandModule); ok {
		lm.commands = cm.GetCommands()
	}
	if hm, ok := mod.(HookModule); ok {
		lm.hooks = hm.GetHooks()
	}

	m.mu.Lock()
	for _, cmd := range lm.commands {
		if existing, ok := m.commands[cmd.GetName()]; ok {
			m.mu.Unlock()
			m.teardown(ctx, lm, true)
			return m.fail(op, name, fmt.Errorf("command %s already registered by %s", cmd.GetName(), existing.Module))
		}
	}

	for _, cmd := range lm.commands {
		m.l.Info("registering command", zap.String("command_name", cmd.GetName()), zap.String("module", name))
		m.commands[cmd.GetName()] = &registeredCommand{
			Module:  name,
			Command: cmd,
		}
		lm.helper.Go(cmd.Run)
	}

	for _, hk := range lm.hooks {
		m.l.Info("registering hook", zap.String("module", name))
		m.hooks = append(m.hooks, &registeredHook{
			Module: name,
			Hook:   hk,
		})
		lm.helper.Go(hk.Run)
	}

	m.running[name] = lm
	modulesRunning.Set(float64(len(m.running)))
	m.mu.Unlock()

	m.l.Info("loaded module", zap.String("module", name))
	return nil
}

// teardown stops a module instance and releases everything it holds.
func (m *ManagerImpl) teardown(ctx context.Context, lm *loadedModule, stop bool) {
	if sm, ok := lm.module.(StopModule); ok && stop {
		if err := sm.Stop(ctx); err != nil {
			m.l.Error("error stopping module", zap.String("module", lm.name), zap.Error(err))
		}
	}

	lm.cancel()
	lm.wg.Wait()

	if err := lm.helper.db.Close(); err != nil {
		m.l.Error("error closing module database", zap.String("module", lm.name), zap.Error(err))
	}
}

// Unload stops a running, non-static module.
func (m *ManagerImpl) Unload(ctx context.Context, name string) error {
	if !m.IsPresent(name) {
		return m.fail("unload", name, ErrNotFound)
	}
	if m.isStatic(name) {
		return m.fail("unload", name, ErrStaticModule)
	}

	lock := m.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	return m.unload(ctx, name, "unload")
}

func (m *ManagerImpl) unload(ctx context.Context, name string, op string) error {
	m.mu.Lock()
	lm, ok := m.running[name]
	if !ok {
		m.mu.Unlock()
		return m.fail(op, name, ErrNotLoaded)
	}

	for cmdName, rc := range m.commands {
		if rc.Module == name {
			delete(m.commands, cmdName)
		}
	}
	hooks := m.hooks[:0]
	for _, h := range m.hooks {
		if h.Module != name {
			hooks = append(hooks, h)
		}
	}
	m.hooks = hooks
	delete(m.running, name)
	modulesRunning.Set(float64(len(m.running)))
	m.mu.Unlock()

	m.teardown(ctx, lm, true)

	m.l.Info("unloaded module", zap.String("module", name))
	return nil
}

// Reload swaps a running module for a fresh instance. Reloading the host module reloads everything.
func (m *ManagerImpl) Reload(ctx context.Context, name string) error {
	if !m.IsPresent(name) {
		return m.fail("reload", name, ErrNotFound)
	}
	if name == m.c.HostModule {
		return m.ReloadSelf(ctx)
	}

	lock := m.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	if !m.isRunning(name) {
		return m.fail("reload", name, ErrNotLoaded)
	}

	done := m.markReloading(name)
	defer m.finishReloading(name, done)

	if err := m.unload(ctx, name, "reload"); err != nil {
		return err
	}
	return m.load(ctx, name, "reload")
}

// markReloading keeps name listed as running while its instances are swapped.
func (m *ManagerImpl) markReloading(name string) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	done := make(chan struct{})
	m.reloading[name] = done
	return done
}

func (m *ManagerImpl) finishReloading(name string, done chan struct{}) {
	m.mu.Lock()
	delete(m.reloading, name)
	m.mu.Unlock()

	close(done)
}

// awaitReloads waits up to commandTimeout for in-flight reloads. It reports
// whether there was anything to wait for and every reload finished.
func (m *ManagerImpl) awaitReloads() bool {
	m.mu.RLock()
	pending := make([]chan struct{}, 0, len(m.reloading))
	for _, done := range m.reloading {
		pending = append(pending, done)
	}
	m.mu.RUnlock()

	if len(pending) == 0 {
		return false
	}

	timer := m.clock.NewTimer(commandTimeout)
	defer timer.Stop()
	for _, done := range pending {
		select {
		case <-done:
		case <-timer.Chan():
			return false
		case <-m.ctx.Done():
			return false
		}
	}
	return true
}

// LoadAllQueued loads statics in declared order, then every other queued module concurrently.
// A failing module is logged and left out of running without affecting its siblings.
func (m *ManagerImpl) LoadAllQueued(ctx context.Context) error {
	m.mu.Lock()
	queued := append([]string(nil), m.queued...)
	m.queued = nil
	m.mu.Unlock()

	var statics, others []string
	for _, name := range m.c.StaticModules {
		for _, q := range queued {
			if q == name {
				statics = append(statics, name)
			}
		}
	}
	for _, q := range queued {
		if !m.isStatic(q) {
			others = append(others, q)
		}
	}

	var errs error
	for _, name := range statics {
		if err := m.Load(ctx, name); err != nil {
			m.l.Error("unable to load static module", zap.String("module", name), zap.Error(err))
			errs = multierr.Append(errs, err)
		}
	}

	var errMu sync.Mutex
	var wg sync.WaitGroup
	for _, name := range others {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			if err := m.Load(ctx, name); err != nil {
				m.l.Error("unable to load module", zap.String("module", name), zap.Error(err))
				errMu.Lock()
				errs = multierr.Append(errs, err)
				errMu.Unlock()
			}
		}(name)
	}
	wg.Wait()

	return errs
}

// ReloadAll reloads every running module except the host, concurrently.
func (m *ManagerImpl) ReloadAll(ctx context.Context) error {
	var names []string
	m.mu.RLock()
	for name := range m.running {
		if name != m.c.HostModule {
			names = append(names, name)
		}
	}
	m.mu.RUnlock()

	var errs error
	var errMu sync.Mutex
	var wg sync.WaitGroup
	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			if err := m.Reload(ctx, name); err != nil {
				m.l.Error("unable to reload module", zap.String("module", name), zap.Error(err))
				errMu.Lock()
				errs = multierr.Append(errs, err)
				errMu.Unlock()
			}
		}(name)
	}
	wg.Wait()

	return errs
}

// unloadAllExcept unloads every running module but keep, statics included.
func (m *ManagerImpl) unloadAllExcept(ctx context.Context, keep string) error {
	var names []string
	m.mu.RLock()
	for name := range m.running {
		if name != keep {
			names = append(names, name)
		}
	}
	m.mu.RUnlock()

	var errs error
	var errMu sync.Mutex
	var wg sync.WaitGroup
	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			lock := m.lockFor(name)
			lock.Lock()
			defer lock.Unlock()
			if err := m.unload(ctx, name, "unload"); err != nil && !errors.Is(err, ErrNotLoaded) {
				errMu.Lock()
				errs = multierr.Append(errs, err)
				errMu.Unlock()
			}
		}(name)
	}
	wg.Wait()

	return errs
}

// ReloadSelf unloads every other module, restarts the host module and then
// loads statics in declared order followed by the configured modules.
// It must not run on one of the host's own goroutines.
func (m *ManagerImpl) ReloadSelf(ctx context.Context) error {
	host := m.c.HostModule
	m.l.Info("reloading all modules")

	if err := m.unloadAllExcept(ctx, host); err != nil {
		m.l.Error("error unloading modules", zap.Error(err))
	}

	lock := m.lockFor(host)
	lock.Lock()
	if m.isRunning(host) {
		if err := m.unload(ctx, host, "reload"); err != nil {
			m.l.Error("error unloading host module", zap.Error(err))
		}
	}
	err := m.load(ctx, host, "reload")
	lock.Unlock()
	if err != nil {
		return err
	}

	for _, name := range m.c.StaticModules {
		if m.IsPresent(name) {
			m.queue(name)
		}
	}
	if err := m.LoadConfig(); err != nil {
		m.l.Error("error loading modules config", zap.Error(err))
	}

	errs := m.LoadAllQueued(ctx)
	if err := m.SyncCommands(); err != nil {
		errs = multierr.Append(errs, err)
	}

	return errs
}

// Boot starts the host module, the statics and the configured modules, then
// publishes their commands. Only a host failure is fatal.
func (m *ManagerImpl) Boot(ctx context.Context) error {
	m.ctx = ctx

	m.discord.AddHandler(m.handleInteraction)
	m.discord.AddHandler(m.handleMessageCreate)
	m.discord.AddHandler(m.handleGuildMemberAdd)
	m.registerRoutes()

	m.Discover()

	m.mu.Lock()
	m.static[m.c.HostModule] = struct{}{}
	for _, name := range m.c.StaticModules {
		m.static[name] = struct{}{}
	}
	m.mu.Unlock()

	if err := m.Load(ctx, m.c.HostModule); err != nil {
		return err
	}

	for _, name := range m.c.StaticModules {
		if !m.IsPresent(name) {
			m.l.Warn("static module missing from manifest", zap.String("module", name))
			continue
		}
		m.queue(name)
	}
	if err := m.LoadConfig(); err != nil {
		m.l.Error("error loading modules config", zap.Error(err))
	}

	if err := m.LoadAllQueued(ctx); err != nil {
		m.l.Warn("some modules failed to load", zap.Error(err))
	}

	if err := m.SyncCommands(); err != nil {
		m.l.Error("unable to sync commands", zap.Error(err))
	}

	return nil
}

// Shutdown unloads every module, host included.
func (m *ManagerImpl) Shutdown(ctx context.Context) error {
	errs := m.unloadAllExcept(ctx, m.c.HostModule)

	lock := m.lockFor(m.c.HostModule)
	lock.Lock()
	defer lock.Unlock()
	if err := m.unload(ctx, m.c.HostModule, "unload"); err != nil && !errors.Is(err, ErrNotLoaded) {
		errs = multierr.Append(errs, err)
	}

	return errs
}

// List returns running modules first, ordered by name length then name, followed by inactive ones.
func (m *ManagerImpl) List() []ModuleDescriptor {
	m.mu.RLock()
	defer m.mu.RUnlock()

	queued := make(map[string]bool, len(m.queued))
	for _, q := range m.queued {
		queued[q] = true
	}

	var running, inactive []ModuleDescriptor
	for name := range m.present {
		_, isRunning := m.running[name]
		if _, ok := m.reloading[name]; ok {
			isRunning = true
		}
		_, isStatic := m.static[name]
		d := ModuleDescriptor{
			Name:    name,
			Present: true,
			Running: isRunning,
			Static:  isStatic,
			Queued:  queued[name],
		}
		if isRunning {
			running = append(running, d)
		} else {
			inactive = append(inactive, d)
		}
	}

	sort.Slice(running, func(i, j int) bool {
		if len(running[i].Name) != len(running[j].Name) {
			return len(running[i].Name) < len(running[j].Name)
		}
		return running[i].Name < running[j].Name
	})
	sort.Slice(inactive, func(i, j int) bool { return inactive[i].Name < inactive[j].Name })

	return append(running, inactive...)
}

// SyncCommands publishes the commands of every running module.
func (m *ManagerImpl) SyncCommands() error {
	m.mu.RLock()
	defs := make([]*discordgo.ApplicationCommand, 0, len(m.commands))
	for _, rc := range m.commands {
		defs = append(defs, rc.Command.Definition())
	}
	m.mu.RUnlock()

	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })

	return m.discord.SyncCommands(defs)
}

func (m *ManagerImpl) setErrorResponder(r ErrorResponder) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.errorResponder = r
}

func (m *ManagerImpl) fail(op, name string, err error) error {
	lifecycleErrors.WithLabelValues(op).Inc()
	return lifecycleErr(op, name, err)
}

func New(
	c Config,
	l *zap.Logger,
	clock clockwork.Clock,
	manifest Manifest,
	discord discord_manager.Manager,
	dataStore data_store.DataStore,
	configs *config.Resolver,
	sqliteConfig sqlite.Config,
	webhookManager webhook_manager.Manager,
) (*ManagerImpl, error) {
	initMetrics()

	m := &ManagerImpl{
		c:              c,
		l:              l.Named("module-manager"),
		clock:          clock,
		manifest:       manifest,
		discord:        discord,
		dataStore:      dataStore,
		configs:        configs,
		sqliteConfig:   sqliteConfig,
		webhookManager: webhookManager,
		ctx:            context.Background(),
		present:        make(map[string]struct{}),
		static:         make(map[string]struct{}),
		running:        make(map[string]*loadedModule),
		reloading:      make(map[string]chan struct{}),
		commands:       make(map[string]*registeredCommand),
		locks:          make(map[string]*sync.Mutex),
	}

	return m, nil
}
