package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	modulesDirName = "modules"
	guildsDirName  = "guilds"
)

type Config struct {
	ConfigsDir string
}

func NewConfig() (Config, error) {
	c := Config{
		ConfigsDir: "configs",
	}

	if dir := os.Getenv("DAYBREAK_CONFIGS_DIR"); dir != "" {
		c.ConfigsDir = dir
	}

	return c, nil
}

// Resolver loads per-module JSON configs from <dir>/modules/<Module>.json and
// per-guild overlays from <dir>/guilds/<guild_id>/<Module>.json.
type Resolver struct {
	c Config
	l *zap.Logger
}

func (r *Resolver) ModulesDir() string {
	return filepath.Join(r.c.ConfigsDir, modulesDirName)
}

func (r *Resolver) GuildsDir() string {
	return filepath.Join(r.c.ConfigsDir, guildsDirName)
}

// Check verifies the mandatory directory structure exists.
func (r *Resolver) Check() error {
	for _, dir := range []string{r.ModulesDir(), r.GuildsDir()} {
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("config directory %s: %w", dir, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("config directory %s: not a directory", dir)
		}
	}
	return nil
}

// LoadModuleConfig loads the global config of a module.
// A missing file is reported as ErrModuleConfigNotFound.
func (r *Resolver) LoadModuleConfig(name string) (*Tree, error) {
	if err := validName(name); err != nil {
		return nil, err
	}

	path := filepath.Join(r.ModulesDir(), name+".json")
	t, ok, err := r.load(path)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, ErrModuleConfigNotFound)
	}

	return t, nil
}

// LoadGuildConfig loads a guild's config for a module.
// A guild that did not opt in is absent (ok == false), not an error.
func (r *Resolver) LoadGuildConfig(guildID, name string) (*Tree, bool, error) {
	if err := validName(guildID); err != nil {
		return nil, false, err
	}
	if err := validName(name); err != nil {
		return nil, false, err
	}

	return r.load(filepath.Join(r.GuildsDir(), guildID, name+".json"))
}

// ResolveGuild returns the guild's overlay merged over the module's global config.
// ok is false when the guild has no file for the module; the returned tree is nil in that case.
func (r *Resolver) ResolveGuild(guildID, name string) (*Tree, bool, error) {
	if err := validName(guildID); err != nil {
		return nil, false, err
	}
	if err := validName(name); err != nil {
		return nil, false, err
	}

	guildPath := filepath.Join(r.GuildsDir(), guildID, name+".json")
	data, err := os.ReadFile(guildPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read %s: %w", guildPath, err)
	}

	v := viper.New()
	v.SetConfigType("json")

	modulePath := filepath.Join(r.ModulesDir(), name+".json")
	base, ok, err := r.load(modulePath)
	if err != nil {
		return nil, false, err
	}
	source := guildPath
	if ok {
		if err := v.MergeConfigMap(base.v.AllSettings()); err != nil {
			return nil, false, fmt.Errorf("merge %s: %w", modulePath, err)
		}
		source = modulePath + "+" + guildPath
	}

	if err := v.MergeConfig(bytes.NewReader(data)); err != nil {
		return nil, false, fmt.Errorf("parse %s: %w", guildPath, err)
	}

	return newTree(source, v), true, nil
}

// GuildIDs lists the guild directories. A missing guilds directory yields no guilds.
func (r *Resolver) GuildIDs() ([]string, error) {
	entries, err := os.ReadDir(r.GuildsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	ids := []string{}
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)

	return ids, nil
}

// GuildConfigs resolves every guild that configured the module, keyed by guild id.
func (r *Resolver) GuildConfigs(name string) (map[string]*Tree, error) {
	ids, err := r.GuildIDs()
	if err != nil {
		return nil, err
	}

	out := make(map[string]*Tree)
	for _, id := range ids {
		t, ok, err := r.ResolveGuild(id, name)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		out[id] = t
	}

	return out, nil
}

func (r *Resolver) load(path string) (*Tree, bool, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("stat %s: %w", path, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		return nil, false, fmt.Errorf("parse %s: %w", path, err)
	}

	r.l.Debug("loaded config", zap.String("path", path))

	return newTree(path, v), true, nil
}

func validName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("invalid config name %q", name)
	}
	return nil
}

// DecodeModule loads a module's global config into a typed struct.
func DecodeModule[T any](r *Resolver, name string) (T, error) {
	var out T

	t, err := r.LoadModuleConfig(name)
	if err != nil {
		return out, err
	}
	if err := t.Decode(&out); err != nil {
		return out, err
	}

	return out, nil
}

// DecodeGuilds resolves and decodes every configured guild of a module. Unconfigured guilds are skipped.
func DecodeGuilds[T any](r *Resolver, name string) (map[string]T, error) {
	trees, err := r.GuildConfigs(name)
	if err != nil {
		return nil, err
	}

	out := make(map[string]T, len(trees))
	for id, t := range trees {
		var v T
		if err := t.Decode(&v); err != nil {
			return nil, err
		}
		out[id] = v
	}

	return out, nil
}

func New(c Config, l *zap.Logger) *Resolver {
	return &Resolver{
		c: c,
		l: l.Named("config-resolver"),
	}
}
