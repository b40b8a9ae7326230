package tasks

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"primamateria.systems/pipework/pkg/invocation"
)

func newTestContext(t *testing.T) *invocation.Context {
	t.Helper()
	inv, err := invocation.New(&invocation.Config{FilesDir: t.TempDir(), TempDir: t.TempDir(), LocalHost: "ops1"})
	require.NoError(t, err)
	return inv
}

func TestInvokeOnce(t *testing.T) {
	inv := newTestContext(t)
	r := NewRegistry()
	calls := 0
	r.MustRegister("agent:setup", "", func(_ context.Context, inv *invocation.Context, arg string) error {
		calls++
		inv.Enqueue("setup " + arg)
		return nil
	})
	r.MustRegister("agent:install", "", func(ctx context.Context, inv *invocation.Context, _ string) error {
		if err := r.Invoke(ctx, inv, "agent:setup", "a"); err != nil {
			return err
		}
		if err := r.Invoke(ctx, inv, "agent:setup", "b"); err != nil {
			return err
		}
		assert.Equal(t, "agent:install", inv.Task())
		return nil
	})

	require.NoError(t, r.Invoke(context.Background(), inv, "agent:install", ""))
	assert.Equal(t, 1, calls)
	assert.Equal(t, []string{"setup a"}, inv.Queue.Commands())
	assert.True(t, r.Invoked("agent:install"))
	assert.Equal(t, "", inv.Task())

	require.NoError(t, r.Invoke(context.Background(), inv, "agent:setup", "c"))
	assert.Equal(t, 1, calls)

	r.ReenableAll()
	assert.False(t, r.Invoked("agent:setup"))
	require.NoError(t, r.Invoke(context.Background(), inv, "agent:setup", "c"))
	assert.Equal(t, 2, calls)
}

func TestInvokeUnknown(t *testing.T) {
	r := NewRegistry()
	err := r.Invoke(context.Background(), newTestContext(t), "nope:nope", "")
	assert.ErrorIs(t, err, ErrUnknownTask)
	assert.False(t, r.Has("nope:nope"))
}

func TestInvokeError(t *testing.T) {
	boom := errors.New("boom")
	r := NewRegistry()
	r.MustRegister("a:b", "", func(context.Context, *invocation.Context, string) error { return boom })
	err := r.Invoke(context.Background(), newTestContext(t), "a:b", "")
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "a:b")
}

func TestRegister(t *testing.T) {
	r := NewRegistry()
	noop := func(context.Context, *invocation.Context, string) error { return nil }
	require.NoError(t, r.Register("b:x", "second", noop))
	require.NoError(t, r.Register("a:y", "first", noop))
	assert.ErrorIs(t, r.Register("a:y", "", noop), ErrDuplicateTask)
	assert.Error(t, r.Register("", "", noop))
	assert.Error(t, r.Register("c:z", "", nil))
	assert.Panics(t, func() { r.MustRegister("a:y", "", noop) })

	assert.Equal(t, []string{"a:y", "b:x"}, r.Names())
	assert.Equal(t, "first", r.Description("a:y"))
	assert.Equal(t, "", r.Description("missing"))
}

func TestNamespace(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"agent:install", "agent"},
		{"agent:conf:reload", "agent"},
		{"deploy", "deploy"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Namespace(tt.name))
		})
	}
}
