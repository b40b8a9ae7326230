// Package tasks keeps the named tasks pipework can run. A task runs at
// most once until the registry is reenabled, so tasks may invoke their
// prerequisites freely.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/emirpasic/gods/maps"
	"github.com/emirpasic/gods/maps/treemap"
	"primamateria.systems/pipework/pkg/invocation"
)

var (
	ErrUnknownTask   = errors.New("unknown task")
	ErrDuplicateTask = errors.New("task already registered")
)

// Task queues commands for the current host of inv.
type Task func(ctx context.Context, inv *invocation.Context, arg string) error

type entry struct {
	desc    string
	run     Task
	invoked bool
}

type Registry struct {
	tasks maps.Map
}

func NewRegistry() *Registry {
	return &Registry{tasks: treemap.NewWithStringComparator()}
}

func (r *Registry) Register(name, desc string, t Task) error {
	if name == "" || t == nil {
		return errors.New("task needs a name and a body")
	}
	if _, ok := r.tasks.Get(name); ok {
		return fmt.Errorf("%w: %v", ErrDuplicateTask, name)
	}
	r.tasks.Put(name, &entry{desc: desc, run: t})
	return nil
}

// MustRegister is Register for built-in tasks, where a conflict is a
// programming error.
func (r *Registry) MustRegister(name, desc string, t Task) {
	if err := r.Register(name, desc, t); err != nil {
		panic(err)
	}
}

func (r *Registry) get(name string) (*entry, error) {
	raw, ok := r.tasks.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrUnknownTask, name)
	}
	return raw.(*entry), nil
}

func (r *Registry) Has(name string) bool {
	_, ok := r.tasks.Get(name)
	return ok
}

// Invoke runs the named task unless it already ran since the last
// ReenableAll. The task is marked before it runs so cycles end.
func (r *Registry) Invoke(ctx context.Context, inv *invocation.Context, name, arg string) error {
	e, err := r.get(name)
	if err != nil {
		return err
	}
	if e.invoked {
		log.Debug("task already invoked", "task", name, "host", inv.Host())
		return nil
	}
	e.invoked = true
	prev := inv.Task()
	inv.SetTask(name)
	defer inv.SetTask(prev)
	log.Debug("invoking task", "task", name, "host", inv.Host())
	if err := e.run(ctx, inv, arg); err != nil {
		return fmt.Errorf("%v: %w", name, err)
	}
	return nil
}

func (r *Registry) Invoked(name string) bool {
	e, err := r.get(name)
	if err != nil {
		return false
	}
	return e.invoked
}

func (r *Registry) ReenableAll() {
	for _, v := range r.tasks.Values() {
		v.(*entry).invoked = false
	}
}

func (r *Registry) Names() []string {
	results := make([]string, 0, r.tasks.Size())
	for _, v := range r.tasks.Keys() {
		results = append(results, v.(string))
	}
	return results
}

func (r *Registry) Description(name string) string {
	e, err := r.get(name)
	if err != nil {
		return ""
	}
	return e.desc
}

// Namespace is the part of a task name before the first colon.
func Namespace(name string) string {
	ns, _, _ := strings.Cut(name, ":")
	return ns
}
