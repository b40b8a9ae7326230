package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"primamateria.systems/pipework/internal/recipes"
	"primamateria.systems/pipework/pkg/driver"
	"primamateria.systems/pipework/pkg/invocation"
	"primamateria.systems/pipework/pkg/remote"
	"primamateria.systems/pipework/pkg/source"
	"primamateria.systems/pipework/pkg/tasks"
)

type app struct {
	config *invocation.Config
	inv    *invocation.Context
	tasks  *tasks.Registry
	driver *driver.Driver
}

func setupDirectories(c *invocation.Config) error {
	err := os.MkdirAll(c.OutputDir, 0o755)
	if err != nil && !errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("error creating output dir: %w", err)
	}
	return nil
}

func setupLogger(c *invocation.Config) {
	if c.UseStdout {
		log.Default().SetOutput(os.Stdout)
	}
	if c.Debug {
		log.Default().SetLevel(log.DebugLevel)
		log.Default().SetReportCaller(true)
	}
}

func syncSource(ctx context.Context, k *koanf.Koanf, sourceDir string) error {
	sc := source.NewConfig(k)
	if sc.URL == "" {
		log.Debug("no source configured")
		return nil
	}
	if sc.NoSync {
		log.Debug("skipping source sync on request")
		return nil
	}
	src, err := source.New(k, sc, sourceDir)
	if err != nil {
		return err
	}
	log.Debug("syncing source", "url", sc.URL, "dir", sourceDir)
	if err := src.Sync(ctx); err != nil {
		return fmt.Errorf("error syncing source: %w", err)
	}
	return nil
}

func buildRunner(c *invocation.Config) (remote.Runner, error) {
	if c.Simulate {
		return remote.NewDryRunner(os.Stdout), nil
	}
	return remote.NewSSHRunner(c.SSH)
}

func loadConfig(ctx context.Context, configFile string, cliflags map[string]any) (*koanf.Koanf, *invocation.Config, error) {
	k, err := LoadConfigs(ctx, configFile, cliflags)
	if err != nil {
		return nil, nil, fmt.Errorf("error generating config blob: %w", err)
	}
	c, err := invocation.NewConfig(k)
	if err != nil {
		return nil, nil, fmt.Errorf("error parsing config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, nil, fmt.Errorf("error validating config: %w", err)
	}
	return k, c, nil
}

func setup(ctx context.Context, configFile string, cliflags map[string]any) (*app, error) {
	k, c, err := loadConfig(ctx, configFile, cliflags)
	if err != nil {
		return nil, err
	}
	setupLogger(c)
	if err := setupDirectories(c); err != nil {
		return nil, fmt.Errorf("error creating base directories: %w", err)
	}
	if err := syncSource(ctx, k, c.SourceDir); err != nil {
		return nil, err
	}
	inv, err := invocation.New(c)
	if err != nil {
		return nil, fmt.Errorf("error creating invocation context: %w", err)
	}
	runner, err := buildRunner(c)
	if err != nil {
		return nil, fmt.Errorf("error creating runner: %w", err)
	}
	reg := tasks.NewRegistry()
	recipes.DefaultAgent().Register(reg)
	return &app{
		config: c,
		inv:    inv,
		tasks:  reg,
		driver: driver.New(reg, runner),
	}, nil
}

func LoadConfigs(_ context.Context, configFile string, cliflags map[string]any) (*koanf.Koanf, error) {
	k := koanf.New(".")
	fileConf := koanf.New(".")
	envConf := koanf.New(".")
	cliConf := koanf.New(".")
	if configFile != "" {
		err := fileConf.Load(file.Provider(configFile), toml.Parser())
		if err != nil {
			return nil, fmt.Errorf("error loading config file: %w", err)
		}
	}
	err := envConf.Load(env.Provider("PIPEWORK_", ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(
			strings.TrimPrefix(s, "PIPEWORK_")), "__", ".")
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("error loading config from env: %w", err)
	}
	err = cliConf.Load(confmap.Provider(cliflags, "."), nil)
	if err != nil {
		return nil, err
	}
	for _, conf := range []*koanf.Koanf{fileConf, envConf, cliConf} {
		if err := k.Merge(conf); err != nil {
			return nil, fmt.Errorf("error building config: %w", err)
		}
	}
	return k, nil
}
