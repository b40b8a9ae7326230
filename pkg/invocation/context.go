// Package invocation carries the state of a task run against one target
// host: the host name, its command queue, the temporary files staged for
// it, and the simulate flag. Helpers receive a *Context explicitly.
package invocation

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"
	"github.com/charmbracelet/log"
	"primamateria.systems/pipework/pkg/locals"
	"primamateria.systems/pipework/pkg/queue"
	"primamateria.systems/pipework/pkg/remote"
	"primamateria.systems/pipework/pkg/templates"
)

type Context struct {
	FilesDir string
	TempDir  string
	Simulate bool
	Queue    *queue.Queue
	Renderer *templates.Renderer
	Vault    *locals.Vault

	host      string
	localHost string
	task      string
	tempfiles []string
}

func New(c *Config) (*Context, error) {
	inv := &Context{
		FilesDir:  c.FilesDir,
		TempDir:   c.TempDir,
		Simulate:  c.Simulate,
		Queue:     queue.New(),
		Vault:     locals.NewVault(),
		localHost: c.LocalHost,
	}
	if inv.localHost == "" {
		h, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("error getting local hostname: %w", err)
		}
		inv.localHost = h
	}
	inv.Renderer = templates.NewRenderer(c.TemplatesDir, templates.DefaultMacros(inv, remote.ShellQuote))
	if len(c.Locals) > 0 {
		var err error
		var idents []age.Identity
		if c.AgeKeyfile != "" {
			idents, err = locals.LoadIdentities(c.AgeKeyfile)
			if err != nil {
				return nil, fmt.Errorf("error loading age keyfile: %w", err)
			}
		}
		inv.Vault, err = locals.Load(c.Locals, idents)
		if err != nil {
			return nil, err
		}
	}
	return inv, nil
}

func (c *Context) Host() string {
	return c.host
}

func (c *Context) SetHost(host string) {
	c.host = host
}

// LocalHost is the operator machine's name, the rsync source remote hosts
// pull from.
func (c *Context) LocalHost() string {
	return c.localHost
}

func (c *Context) Task() string {
	return c.task
}

func (c *Context) SetTask(task string) {
	c.task = task
}

func (c *Context) Enqueue(cmd string) {
	log.Debug("queued", "host", c.host, "cmd", cmd)
	c.Queue.Enqueue(cmd)
}

// SourcePath resolves a staged file path against the files directory.
func (c *Context) SourcePath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.FilesDir, path)
}

// Locals returns extra layered over the vault's view of the current task
// and host.
func (c *Context) Locals(extra map[string]any) map[string]any {
	base := c.Vault.For(locals.Filter{Host: c.host, Task: c.task})
	out := make(map[string]any, len(extra)+len(base))
	for k, v := range extra {
		out[k] = v
	}
	return locals.Merge(out, base)
}

// CreateTempFile writes contents to a new file in TempDir and tracks it
// for CleanTempFiles.
func (c *Context) CreateTempFile(contents string) (string, error) {
	f, err := os.CreateTemp(c.TempDir, "pipework-")
	if err != nil {
		return "", fmt.Errorf("error creating tempfile: %w", err)
	}
	c.tempfiles = append(c.tempfiles, f.Name())
	if !strings.HasSuffix(contents, "\n") {
		contents += "\n"
	}
	_, err = f.WriteString(contents)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", fmt.Errorf("error writing tempfile %v: %w", f.Name(), err)
	}
	return f.Name(), nil
}

func (c *Context) TempFiles() []string {
	out := make([]string, len(c.tempfiles))
	copy(out, c.tempfiles)
	return out
}

// CleanTempFiles removes every tracked temporary file. The list is reset
// even when some removals fail.
func (c *Context) CleanTempFiles() error {
	var errs []error
	for _, f := range c.tempfiles {
		if err := os.Remove(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	c.tempfiles = nil
	return errors.Join(errs...)
}

// Isolate runs fn with an empty queue. Commands queued before the call are
// restored afterwards and anything fn leaves queued is dropped, along with
// any host or task fn selected.
func (c *Context) Isolate(fn func() error) error {
	host, task := c.host, c.task
	saved := c.Queue.Swap(nil)
	defer func() {
		c.Queue.Swap(saved)
		c.host, c.task = host, task
	}()
	return fn()
}
