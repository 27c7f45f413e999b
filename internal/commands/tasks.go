package commands

import (
	"github.com/dreamware/fleetdb/internal/cluster"
	"github.com/dreamware/fleetdb/internal/ddl"
)

// Task is an ordered command list sent to a set of target nodes. The command
// list of a propagated statement is always the guard-bracketed triple
// [disable-guard, payload, enable-guard] so the payload cannot re-trigger
// propagation on the target. Tasks are ephemeral, never persisted.
type Task struct {
	Targets  []cluster.NodeInfo
	Commands []string
}

// GuardedCommands brackets the given payload commands with the propagation
// guard disable/enable pair.
func GuardedCommands(payload ...string) []string {
	commands := make([]string, 0, len(payload)+2)
	commands = append(commands, ddl.DisableDDLPropagation)
	commands = append(commands, payload...)
	commands = append(commands, ddl.EnableDDLPropagation)
	return commands
}

// NodeDDLTaskList builds the task list targeting the given node set. An empty
// target set yields an empty list rather than a task with no targets.
func NodeDDLTaskList(targets []cluster.NodeInfo, commands []string) []Task {
	if len(targets) == 0 {
		return nil
	}
	return []Task{{Targets: targets, Commands: commands}}
}
