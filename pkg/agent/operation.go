/*
Copyright 2022-2024 EscherCloud.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package agent is the uniform façade over the remote agent operations of
// §4.C / §6: activate, deactivate, lock, snapshot, restore, copy-closure,
// realise, query, and the rest. Every operation is realised as a child
// process running the target's client-interface executable; the package
// never talks to a target directly, keeping the core agnostic to the
// actual remote-access mechanism (local exec, SSH, RPC, ...) the
// interface executable wraps (§1).
//
// Design Notes §9 folds the source's separate PID/future callback tables
// into a single Operation type with two variants rather than a pair of
// function-pointer tables: Kind tags which one this is, and Run behaves
// accordingly.
package agent

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/google/uuid"
)

// Kind tags whether an Operation's completion is observed purely via exit
// status (Detached) or by capturing newline-separated stdout into a
// string list (Future), per §4.C.
type Kind int

const (
	// Detached operations only report success/failure via exit status.
	Detached Kind = iota

	// Future operations capture stdout, parsed into a list of strings,
	// e.g. realise's output paths or query-installed's service names.
	Future
)

// Operation is one in-flight or not-yet-started invocation of a client
// interface executable. It is the generalization of the original's
// process-handle table entry (§9): implementers may key any associative
// container by the Operation's Handle, this package simply exposes one.
type Operation struct {
	// Handle uniquely identifies this operation for process-handle
	// table bookkeeping (§9), independent of any OS process id, since
	// the underlying *exec.Cmd is only valid after Run starts it.
	Handle string

	// Target is the target key this operation was dispatched against,
	// carried here so completion handlers can release the right
	// reservation without threading it through separately.
	Target string

	kind Kind
	cmd  *exec.Cmd
}

// Run starts the child process and blocks until it exits or ctx is
// cancelled. For a Detached operation the returned slice is always nil;
// for a Future operation it is the newline-separated stdout content, with
// no other output expected on success (§6).
func (o *Operation) Run(ctx context.Context) ([]string, error) {
	o.cmd = exec.CommandContext(ctx, o.cmd.Path, o.cmd.Args[1:]...)

	if o.kind == Detached {
		if err := o.cmd.Run(); err != nil {
			return nil, &ExecError{Verb: o.verb(), Target: o.Target, Err: err}
		}

		return nil, nil
	}

	var stdout bytes.Buffer

	o.cmd.Stdout = &stdout

	if err := o.cmd.Run(); err != nil {
		return nil, &ExecError{Verb: o.verb(), Target: o.Target, Err: err}
	}

	return splitLines(stdout.String()), nil
}

func (o *Operation) verb() string {
	// Args[0] is the executable itself; the verb is the first argument.
	if len(o.cmd.Args) < 2 {
		return ""
	}

	return o.cmd.Args[1]
}

func splitLines(s string) []string {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return nil
	}

	return strings.Split(s, "\n")
}

// newOperation constructs an Operation invoking interfaceExecutable with
// the standard argv shape (§6): verb, then flags, then the trailing
// service/path argument. args is the fully assembled argv excluding the
// executable itself.
func newOperation(kind Kind, interfaceExecutable, target string, args []string) *Operation {
	return &Operation{
		Handle: uuid.NewString(),
		Target: target,
		kind:   kind,
		//nolint:gosec // interfaceExecutable and args originate from the
		// loaded infrastructure/manifest model, not untrusted input.
		cmd: exec.Command(interfaceExecutable, args...),
	}
}

func argvBase(verb, target string) []string {
	return []string{verb, "--target", target}
}

func appendContainerArgs(args []string, container, typ string, activationArgs []KeyValue) []string {
	if container != "" {
		args = append(args, "--container", container)
	}

	if typ != "" {
		args = append(args, "--type", typ)
	}

	if len(activationArgs) > 0 {
		args = append(args, "--arguments")

		for _, a := range activationArgs {
			args = append(args, fmt.Sprintf("%s=%s", a.Key, a.Value))
		}
	}

	return args
}

// KeyValue is one activation argument passed to activate/deactivate.
type KeyValue struct {
	Key   string
	Value string
}
