package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/urfave/cli"
	"go.uber.org/zap"

	daybreak "github.com/jirwin/daybreak/pkg"
	"github.com/jirwin/daybreak/pkg/builtin_modules"
	"github.com/jirwin/daybreak/pkg/config"
	"github.com/jirwin/daybreak/pkg/uzap"
)

const Version = "0.1.0"

func run(c *cli.Context) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bot, err := daybreak.NewDayBreak(ctx)
	if err != nil {
		zap.L().Error("error creating bot", zap.Error(err))
		return cli.NewExitError(fmt.Sprintf("error creating bot: %s", err), 1)
	}

	err = bot.Start(ctx)
	if err != nil {
		bot.Stop()
		return cli.NewExitError(fmt.Sprintf("error starting bot: %s", err), 1)
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)

	select {
	case <-signals:
	case <-bot.Done():
	}
	bot.Stop()

	return nil
}

func listModules(c *cli.Context) error {
	active := make(map[string]bool)
	resolver, err := newResolver()
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	if tree, err := resolver.LoadModuleConfig("modules"); err == nil {
		names, err := tree.StringSlice("active_modules")
		if err == nil {
			for _, name := range names {
				active[name] = true
			}
		}
	}

	manifest := builtin_modules.Manifest()
	names := make([]string, 0, len(manifest))
	for name := range manifest {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		marker := " "
		if active[name] {
			marker = "*"
		}
		fmt.Printf("%s %s\n", marker, name)
	}

	return nil
}

func checkConfig(c *cli.Context) error {
	resolver, err := newResolver()
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}

	if err := resolver.Check(); err != nil {
		return cli.NewExitError(err.Error(), 1)
	}

	tree, err := resolver.LoadModuleConfig("modules")
	if err != nil {
		return cli.NewExitError(fmt.Sprintf("modules config: %s", err), 1)
	}
	active, err := tree.StringSlice("active_modules")
	if err != nil {
		return cli.NewExitError(fmt.Sprintf("modules config: %s", err), 1)
	}

	manifest := builtin_modules.Manifest()
	failed := false
	for _, name := range active {
		if _, ok := manifest[name]; !ok {
			fmt.Printf("unknown active module: %s\n", name)
			failed = true
			continue
		}
		if _, err := resolver.LoadModuleConfig(name); err != nil && !errors.Is(err, config.ErrModuleConfigNotFound) {
			fmt.Printf("%s: %s\n", name, err)
			failed = true
		}
		if _, err := resolver.GuildConfigs(name); err != nil {
			fmt.Printf("%s: %s\n", name, err)
			failed = true
		}
	}
	if failed {
		return cli.NewExitError("config check failed", 1)
	}

	fmt.Printf("config ok, %d active module(s)\n", len(active))
	return nil
}

func newResolver() (*config.Resolver, error) {
	uc, err := uzap.NewConfig()
	if err != nil {
		return nil, err
	}
	l, err := uzap.New(uc)
	if err != nil {
		return nil, err
	}
	cc, err := config.NewConfig()
	if err != nil {
		return nil, err
	}
	return config.New(cc, l), nil
}

func main() {
	// a missing .env is fine, the environment may already be populated
	_ = godotenv.Load()

	app := cli.NewApp()
	app.Name = "daybreak"
	app.Version = Version
	app.Usage = "a modular discord bot"
	app.Action = run
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   "api-key",
			Usage:  "The discord bot token",
			EnvVar: "DISCORD_API_KEY",
		},
		cli.StringFlag{
			Name:   "configs-dir",
			Usage:  "The directory holding the modules/ and guilds/ configs",
			Value:  "configs",
			EnvVar: "DAYBREAK_CONFIGS_DIR",
		},
		cli.StringFlag{
			Name:   "var-dir",
			Usage:  "The directory where databases are stored",
			Value:  "var",
			EnvVar: "DAYBREAK_VAR_DIR",
		},
	}
	app.Before = func(c *cli.Context) error {
		// providers read their settings from the environment
		for flag, env := range map[string]string{
			"api-key":     "DISCORD_API_KEY",
			"configs-dir": "DAYBREAK_CONFIGS_DIR",
			"var-dir":     "DAYBREAK_VAR_DIR",
		} {
			if c.IsSet(flag) {
				if err := os.Setenv(env, c.String(flag)); err != nil {
					return err
				}
			}
		}
		return nil
	}
	app.Commands = []cli.Command{
		{
			Name:   "run",
			Usage:  "connect to discord and run the bot",
			Action: run,
		},
		{
			Name:   "modules",
			Usage:  "list the bundled modules, marking the active ones",
			Action: listModules,
		},
		{
			Name:   "check-config",
			Usage:  "validate the config directory",
			Action: checkConfig,
		},
	}

	if err := app.Run(os.Args); err != nil {
		os.Exit(1)
	}
}
