// Package daemontools queues control commands for daemons supervised
// under a daemontools service directory.
//
// Every snippet tests for the service link (-L) or its log directory (-d)
// inside if/then/fi, so a missing piece is skipped without a non-zero
// status that would stop the queued script.
package daemontools

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"primamateria.systems/pipework/pkg/invocation"
)

const DefaultServiceDir = "/service"

var ErrInvalidName = errors.New("invalid daemon name")

type Action int

const (
	ActionStatus Action = iota
	ActionStart
	ActionStop
	ActionRestart
	ActionRemove
)

func (a Action) String() string {
	switch a {
	case ActionStatus:
		return "status"
	case ActionStart:
		return "start"
	case ActionStop:
		return "stop"
	case ActionRestart:
		return "restart"
	case ActionRemove:
		return "remove"
	default:
		return fmt.Sprintf("Action(%d)", int(a))
	}
}

type Supervisor struct {
	ServiceDir string
}

func New(serviceDir string) *Supervisor {
	if serviceDir == "" {
		serviceDir = DefaultServiceDir
	}
	return &Supervisor{ServiceDir: serviceDir}
}

func (s *Supervisor) Apply(inv *invocation.Context, name string, action Action) error {
	if err := validateName(name); err != nil {
		return err
	}
	svc := path.Join(s.ServiceDir, name)
	switch action {
	case ActionStatus:
		s.both(inv, svc, "svstat")
	case ActionStart:
		s.both(inv, svc, "svc -u")
	case ActionStop:
		s.both(inv, svc, "svc -d")
	case ActionRestart:
		// -x after -d makes supervise exit; svscan starts it again.
		s.both(inv, svc, "svc -dx")
	case ActionRemove:
		hidden := path.Join(s.ServiceDir, "."+name)
		s.both(inv, svc, "svc -d")
		inv.Enqueue(ifLink(svc, fmt.Sprintf(`sudo mv "%v" "%v"`, svc, hidden)))
		s.both(inv, hidden, "svc -x")
		inv.Enqueue(ifLink(hidden, fmt.Sprintf(`sudo rm "%v"`, hidden)))
	default:
		return fmt.Errorf("unexpected daemontools action: %v", action)
	}
	return nil
}

// both queues cmd against the log service first, then the service.
func (s *Supervisor) both(inv *invocation.Context, svc, cmd string) {
	logDir := svc + "/log"
	inv.Enqueue(ifDir(logDir, fmt.Sprintf(`sudo %v "%v"`, cmd, logDir)))
	inv.Enqueue(ifLink(svc, fmt.Sprintf(`sudo %v "%v"`, cmd, svc)))
}

func (s *Supervisor) Status(inv *invocation.Context, name string) error {
	return s.Apply(inv, name, ActionStatus)
}

func (s *Supervisor) Start(inv *invocation.Context, name string) error {
	return s.Apply(inv, name, ActionStart)
}

func (s *Supervisor) Stop(inv *invocation.Context, name string) error {
	return s.Apply(inv, name, ActionStop)
}

func (s *Supervisor) Restart(inv *invocation.Context, name string) error {
	return s.Apply(inv, name, ActionRestart)
}

// Remove takes a daemon out of supervision: down both services, hide the
// link so svscan does not restart it, make both supervisors exit, then
// delete the hidden link.
func (s *Supervisor) Remove(inv *invocation.Context, name string) error {
	return s.Apply(inv, name, ActionRemove)
}

func ifDir(p, cmd string) string {
	return fmt.Sprintf(`if [ -d "%v" ]; then %v; fi`, p, cmd)
}

func ifLink(p, cmd string) string {
	return fmt.Sprintf(`if [ -L "%v" ]; then %v; fi`, p, cmd)
}

func validateName(name string) error {
	if name == "" || strings.ContainsAny(name, "/\"'$` \t\n") || strings.HasPrefix(name, ".") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
