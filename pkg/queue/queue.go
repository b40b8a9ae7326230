// Package queue holds the ordered shell commands built for one target host.
// Nothing here executes; a remote.Runner flushes the rendered script.
package queue

import (
	"strings"
)

// ScriptHeader stops the flushed script at the first failing command.
// Commands that must not abort the run guard themselves with if/then/fi.
const ScriptHeader = "set -e"

type Queue struct {
	commands []string
}

func New() *Queue {
	return &Queue{}
}

func (q *Queue) Enqueue(cmd string) {
	q.commands = append(q.commands, cmd)
}

// Commands returns a copy of the queued commands in order.
func (q *Queue) Commands() []string {
	out := make([]string, len(q.commands))
	copy(out, q.commands)
	return out
}

func (q *Queue) Len() int {
	return len(q.commands)
}

func (q *Queue) Empty() bool {
	return len(q.commands) == 0
}

func (q *Queue) Reset() {
	q.commands = nil
}

// Swap replaces the queued commands and returns the previous ones.
func (q *Queue) Swap(cmds []string) []string {
	old := q.commands
	q.commands = cmds
	return old
}

// Script renders the queue as a single shell script.
func (q *Queue) Script() string {
	if q.Empty() {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(ScriptHeader)
	sb.WriteString("\n")
	for _, c := range q.commands {
		sb.WriteString(c)
		sb.WriteString("\n")
	}
	return sb.String()
}
