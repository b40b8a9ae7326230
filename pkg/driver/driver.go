// Package driver runs tasks against target hosts: queue, flush, clean up,
// one host at a time.
package driver

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"primamateria.systems/pipework/pkg/invocation"
	"primamateria.systems/pipework/pkg/remote"
	"primamateria.systems/pipework/pkg/tasks"
)

// Block queues commands for the current host of inv.
type Block func(ctx context.Context, inv *invocation.Context) error

type Driver struct {
	Tasks  *tasks.Registry
	Runner remote.Runner
}

func New(reg *tasks.Registry, runner remote.Runner) *Driver {
	return &Driver{Tasks: reg, Runner: runner}
}

// InvokeBlock points inv at host, runs fn and flushes whatever it queued.
// Tasks are reenabled, the queue is reset and temp files are removed
// whatever the outcome. Failures are recorded in the result and logged;
// only cancellation of ctx is returned.
func (d *Driver) InvokeBlock(ctx context.Context, inv *invocation.Context, host string, fn Block) (res HostResult, err error) {
	start := time.Now()
	res.Host = host
	inv.SetHost(host)
	defer func() {
		res.TempFiles = len(inv.TempFiles())
		d.cleanup(inv)
		res.Duration = time.Since(start)
		if err != nil && ctx.Err() == nil {
			log.Error("host failed", "host", host, "err", err)
			res.Error = err.Error()
			err = nil
		}
	}()

	if err := fn(ctx, inv); err != nil {
		return res, fmt.Errorf("%v: %w", host, err)
	}
	res.Commands = inv.Queue.Len()
	if inv.Queue.Empty() {
		log.Debug("nothing queued", "host", host)
		return res, nil
	}
	res.Flushed = true
	log.Info("flushing", "host", host, "commands", res.Commands)
	if err := d.Runner.Run(ctx, host, inv.Queue.Script()); err != nil {
		return res, fmt.Errorf("%v: %w", host, err)
	}
	return res, nil
}

func (d *Driver) cleanup(inv *invocation.Context) {
	if d.Tasks != nil {
		d.Tasks.ReenableAll()
	}
	inv.Queue.Reset()
	if err := inv.CleanTempFiles(); err != nil {
		log.Warn("error removing temp files", "host", inv.Host(), "err", err)
	}
}

// MultiInvoke runs task on each host in order, passing args[i] to the run
// on hosts[i]. The host and any commands queued on inv before the call are
// restored afterwards.
func (d *Driver) MultiInvoke(ctx context.Context, inv *invocation.Context, task string, hosts, args []string) (*Report, error) {
	if !d.Tasks.Has(task) {
		return nil, fmt.Errorf("%w: %v", tasks.ErrUnknownTask, task)
	}
	report := NewReport(task)
	err := inv.Isolate(func() error {
		for i, host := range hosts {
			var arg string
			if i < len(args) {
				arg = args[i]
			}
			res, err := d.InvokeBlock(ctx, inv, host, func(ctx context.Context, inv *invocation.Context) error {
				return d.Tasks.Invoke(ctx, inv, task, arg)
			})
			report.Results = append(report.Results, res)
			if err != nil {
				return err
			}
		}
		return nil
	})
	return report, err
}
