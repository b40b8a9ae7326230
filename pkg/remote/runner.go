// Package remote flushes queued command scripts against a target host.
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrFailed marks a recoverable per-host failure: the host could not be
// reached, a transfer failed, or a queued command exited non-zero.
var ErrFailed = errors.New("remote execution failed")

// Runner executes a rendered queue script on host and blocks until it
// finishes.
type Runner interface {
	Run(ctx context.Context, host string, script string) error
}

// DryRunner prints the script that would run instead of executing it.
type DryRunner struct {
	Out io.Writer
}

func NewDryRunner(out io.Writer) *DryRunner {
	return &DryRunner{Out: out}
}

func (d *DryRunner) Run(ctx context.Context, host string, script string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(d.Out, "-----> %v\n%v", host, script); err != nil {
		return err
	}
	if !strings.HasSuffix(script, "\n") {
		_, err := fmt.Fprintln(d.Out)
		return err
	}
	return nil
}

// ShellQuote quotes s for a POSIX shell when it holds anything beyond a
// conservative set of safe characters.
func ShellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if strings.IndexFunc(s, func(r rune) bool {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
			return false
		}
		switch r {
		case '-', '_', '.', '/', '@', ':', ',', '+', '=':
			return false
		}
		return true
	}) == -1 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", "'\\''") + "'"
}
