// Package recipes holds the built-in tasks shipped with pipework.
package recipes

import (
	"context"
	"fmt"
	"path"
	"strings"

	"primamateria.systems/pipework/pkg/daemontools"
	"primamateria.systems/pipework/pkg/invocation"
	"primamateria.systems/pipework/pkg/packages"
	"primamateria.systems/pipework/pkg/stager"
	"primamateria.systems/pipework/pkg/tasks"
)

const DefaultLogrotateSchedule = "0 4 * * *"

// Agent deploys fluent-agent-lite under daemontools.
type Agent struct {
	Name       string
	Package    string
	ConfPath   string
	ServiceSrc string
	PluginDir  string
	CronPath   string
	Supervisor *daemontools.Supervisor
	Yum        *packages.Yum
}

func DefaultAgent() *Agent {
	return &Agent{
		Name:       "fluent-agent-lite",
		Package:    "fluent-agent-lite",
		ConfPath:   "/etc/fluent-agent-lite.conf",
		ServiceSrc: "/var/lib/fluent-agent-lite/service",
		PluginDir:  "/etc/fluent/plugins",
		CronPath:   "/etc/cron.d/fluent-agent-lite-logrotate",
		Supervisor: daemontools.New(daemontools.DefaultServiceDir),
		Yum:        packages.Haikanko(),
	}
}

func (a *Agent) Register(reg *tasks.Registry) {
	reg.MustRegister("agent:install", "install, configure and supervise the agent", func(ctx context.Context, inv *invocation.Context, arg string) error {
		if err := a.Yum.Install(inv, a.Package); err != nil {
			return err
		}
		if err := reg.Invoke(ctx, inv, "agent:configure", arg); err != nil {
			return err
		}
		return reg.Invoke(ctx, inv, "agent:supervise", arg)
	})
	reg.MustRegister("agent:configure", "render the agent config and restart it", func(_ context.Context, inv *invocation.Context, arg string) error {
		if err := stager.TemplateFile(inv, a.ConfPath, "fluent-agent-lite.conf", a.locals(inv, arg)); err != nil {
			return err
		}
		return a.Supervisor.Restart(inv, a.Name)
	})
	reg.MustRegister("agent:supervise", "stage daemontools run scripts and link the service", func(_ context.Context, inv *invocation.Context, arg string) error {
		vars := a.locals(inv, arg)
		for _, script := range []struct{ target, tmpl string }{
			{path.Join(a.ServiceSrc, "run"), "daemontools/run"},
			{path.Join(a.ServiceSrc, "log", "run"), "daemontools/log-run"},
		} {
			if err := stager.ExecutableFileFunc(inv, script.target, func() (string, error) {
				return inv.Renderer.Render(script.tmpl, vars)
			}); err != nil {
				return err
			}
		}
		inv.Enqueue(fmt.Sprintf("sudo ln -sfn %v %v", a.ServiceSrc, path.Join(a.Supervisor.ServiceDir, a.Name)))
		return nil
	})
	reg.MustRegister("agent:plugins", "sync fluent plugins and install their gems", func(_ context.Context, inv *invocation.Context, _ string) error {
		stager.RemoteDirectory(inv, a.PluginDir, "fluent-plugins")
		packages.FluentBundle(inv, a.PluginDir)
		return nil
	})
	reg.MustRegister("agent:logrotate", "install the logrotate cron entry, or drop it with arg remove", func(_ context.Context, inv *invocation.Context, arg string) error {
		if arg == "remove" {
			stager.RemoveCrondFile(inv, a.CronPath)
			return nil
		}
		vars := a.locals(inv, arg)
		return stager.RemoteCrondFileFunc(inv, a.CronPath, func() (string, error) {
			schedule := DefaultLogrotateSchedule
			if s, ok := vars["logrotate_schedule"].(string); ok && s != "" {
				schedule = s
			}
			return fmt.Sprintf("%v root /usr/sbin/logrotate -f /etc/logrotate.d/%v", schedule, a.Name), nil
		})
	})
	reg.MustRegister("agent:start", "start the agent", func(_ context.Context, inv *invocation.Context, _ string) error {
		return a.Supervisor.Start(inv, a.Name)
	})
	reg.MustRegister("agent:stop", "stop the agent", func(_ context.Context, inv *invocation.Context, _ string) error {
		return a.Supervisor.Stop(inv, a.Name)
	})
	reg.MustRegister("agent:restart", "restart the agent", func(_ context.Context, inv *invocation.Context, _ string) error {
		return a.Supervisor.Restart(inv, a.Name)
	})
	reg.MustRegister("agent:status", "show the agent's supervise status", func(_ context.Context, inv *invocation.Context, _ string) error {
		return a.Supervisor.Status(inv, a.Name)
	})
	reg.MustRegister("agent:remove", "unsupervise and uninstall the agent", func(_ context.Context, inv *invocation.Context, _ string) error {
		if err := a.Supervisor.Remove(inv, a.Name); err != nil {
			return err
		}
		if err := a.Yum.Remove(inv, a.Package); err != nil {
			return err
		}
		stager.RemoveRemoteFile(inv, a.ConfPath)
		stager.RemoveCrondFile(inv, a.CronPath)
		inv.Enqueue(fmt.Sprintf("sudo rm -rf %v", a.ServiceSrc))
		return nil
	})
}

// locals layers key=value pairs from a task argument over the vault and
// always provides name.
func (a *Agent) locals(inv *invocation.Context, arg string) map[string]any {
	extra := ParseArg(arg)
	if _, ok := extra["name"]; !ok {
		extra["name"] = a.Name
	}
	return inv.Locals(extra)
}

// ParseArg reads "k=v,k2=v2". Items without = are ignored.
func ParseArg(arg string) map[string]any {
	out := map[string]any{}
	for _, item := range strings.Split(arg, ",") {
		k, v, ok := strings.Cut(item, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			continue
		}
		out[k] = strings.TrimSpace(v)
	}
	return out
}
