package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/urfave/cli/v3"
	"primamateria.systems/pipework/internal/recipes"
	"primamateria.systems/pipework/pkg/tasks"
)

var Version string

func main() {
	cliflags := make(map[string]any)
	ctx := context.Background()

	var configFile string

	app := &cli.Command{
		Name:    "pipework",
		Usage:   "Queue shell commands per host and run them over SSH",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Usage:       "TOML config file",
				Required:    false,
				Destination: &configFile,
				Aliases:     []string{"c"},
				Sources:     cli.EnvVars("PIPEWORK_CONFIG"),
				Action: func(ctx context.Context, cCtx *cli.Command, v string) error {
					if v == "" {
						return errors.New("config file passed without value")
					}
					if _, err := os.Stat(v); err != nil && os.IsNotExist(err) {
						return errors.New("config file not found")
					} else if err != nil {
						return err
					}
					return nil
				},
			},
			&cli.BoolFlag{
				Name:    "nosync",
				Usage:   "Do not sync the configured source before running",
				Sources: cli.EnvVars("PIPEWORK_NOSYNC"),
				Action: func(ctx context.Context, cm *cli.Command, b bool) error {
					cliflags["source.no_sync"] = b
					return nil
				},
			},
			&cli.BoolFlag{
				Name:    "debug",
				Aliases: []string{"d"},
				Usage:   "Enable debug logging",
				Action: func(ctx context.Context, cm *cli.Command, b bool) error {
					cliflags["debug"] = b
					return nil
				},
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "config",
				Usage: "Dump active config",
				Action: func(ctx context.Context, cCtx *cli.Command) error {
					_, c, err := loadConfig(ctx, configFile, cliflags)
					if err != nil {
						return err
					}
					fmt.Println(c)
					return nil
				},
			},
			{
				Name:      "run",
				Usage:     "Run a task against its hosts",
				ArgsUsage: "<task>",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{
						Name:    "host",
						Aliases: []string{"H"},
						Usage:   "Target host, repeatable. Defaults to hosts.<namespace> from config",
					},
					&cli.StringSliceFlag{
						Name:    "arg",
						Aliases: []string{"a"},
						Usage:   "Task argument for the host in the same position, repeatable",
					},
					&cli.BoolFlag{
						Name:    "simulate",
						Aliases: []string{"s"},
						Usage:   "Print the scripts instead of running them",
						Action: func(ctx context.Context, cm *cli.Command, b bool) error {
							cliflags["simulate"] = b
							return nil
						},
					},
				},
				Action: func(ctx context.Context, cCtx *cli.Command) error {
					task := cCtx.Args().First()
					if task == "" {
						return errors.New("no task given")
					}
					a, err := setup(ctx, configFile, cliflags)
					if err != nil {
						return err
					}
					hosts := cCtx.StringSlice("host")
					if len(hosts) == 0 {
						hosts = a.config.HostsFor(task)
					}
					if len(hosts) == 0 {
						return fmt.Errorf("no hosts for %v: pass --host or set hosts.%v", task, tasks.Namespace(task))
					}
					report, err := a.driver.MultiInvoke(ctx, a.inv, task, hosts, cCtx.StringSlice("arg"))
					if report != nil && !a.config.Simulate {
						if serr := report.Save(filepath.Join(a.config.OutputDir, "lastrun.toml")); serr != nil {
							log.Warn("error saving run report", "err", serr)
						}
					}
					if err != nil {
						return err
					}
					if failed := report.Failed(); failed > 0 {
						return fmt.Errorf("%v of %v hosts failed", failed, len(hosts))
					}
					return nil
				},
			},
			{
				Name:  "tasks",
				Usage: "List available tasks",
				Action: func(ctx context.Context, cCtx *cli.Command) error {
					reg := tasks.NewRegistry()
					recipes.DefaultAgent().Register(reg)
					for _, name := range reg.Names() {
						fmt.Printf("%-20v %v\n", name, reg.Description(name))
					}
					return nil
				},
			},
			{
				Name:      "render",
				Usage:     "Render a template with the locals for a host",
				ArgsUsage: "<template>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "host",
						Aliases: []string{"H"},
						Usage:   "Host whose locals are used",
					},
					&cli.StringFlag{
						Name:  "task",
						Usage: "Task whose locals are used",
					},
					&cli.StringFlag{
						Name:  "diff",
						Usage: "Show the difference against an existing file instead",
					},
				},
				Action: func(ctx context.Context, cCtx *cli.Command) error {
					name := cCtx.Args().First()
					if name == "" {
						return errors.New("no template given")
					}
					a, err := setup(ctx, configFile, cliflags)
					if err != nil {
						return err
					}
					a.inv.SetHost(cCtx.String("host"))
					a.inv.SetTask(cCtx.String("task"))
					out, err := a.inv.Renderer.Render(name, a.inv.Locals(nil))
					if err != nil {
						return err
					}
					diffFile := cCtx.String("diff")
					if diffFile == "" {
						fmt.Print(out)
						return nil
					}
					current, err := os.ReadFile(diffFile)
					if err != nil {
						return fmt.Errorf("error reading %v: %w", diffFile, err)
					}
					dmp := diffmatchpatch.New()
					diffs := dmp.DiffMain(string(current), out, false)
					if len(diffs) == 1 && diffs[0].Type == diffmatchpatch.DiffEqual {
						log.Info("no changes", "file", diffFile)
						return nil
					}
					fmt.Println(dmp.DiffPrettyText(diffs))
					return nil
				},
			},
			{
				Name:  "version",
				Usage: "Show version",
				Action: func(ctx context.Context, cCtx *cli.Command) error {
					fmt.Printf("pipework version %v\n", Version)
					return nil
				},
			},
		},
	}
	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
