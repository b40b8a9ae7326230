package remote

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDryRunner(t *testing.T) {
	var out bytes.Buffer
	r := NewDryRunner(&out)

	assert.NoError(t, r.Run(context.Background(), "web1", "set -e\ntrue\n"))
	assert.NoError(t, r.Run(context.Background(), "web2", "set -e\nfalse"))
	assert.Equal(t, "-----> web1\nset -e\ntrue\n-----> web2\nset -e\nfalse\n", out.String())
}

func TestDryRunnerCancelled(t *testing.T) {
	var out bytes.Buffer
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, NewDryRunner(&out).Run(ctx, "web1", "true"), context.Canceled)
	assert.Empty(t, out.String())
}

func TestShellQuote(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "''"},
		{"simple", "simple"},
		{"/etc/yum.repos.d/td.repo", "/etc/yum.repos.d/td.repo"},
		{"has space", "'has space'"},
		{"it's", `'it'\''s'`},
		{"set -e\ntrue\n", "'set -e\ntrue\n'"},
		{"$(dirname /x)", "'$(dirname /x)'"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ShellQuote(tt.in))
		})
	}
}
