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

package agent

import "strconv"

// Interface is a client-interface executable bound to one target address.
// It is the uniform façade described in §4.C: every remote operation is
// exposed as a method returning an *Operation ready to Run.
type Interface struct {
	// Executable is the path to (or name of) the client-interface
	// binary, resolved from the target's ClientInterface attribute.
	Executable string

	// Target is the address of the remote interface, i.e. the target
	// key (§3).
	Target string
}

// New binds a client-interface executable to a target address.
func New(executable, target string) *Interface {
	return &Interface{Executable: executable, Target: target}
}

func (i *Interface) detached(verb string, args []string) *Operation {
	return newOperation(Detached, i.Executable, i.Target, append(argvBase(verb, i.Target), args...))
}

func (i *Interface) future(verb string, args []string) *Operation {
	return newOperation(Future, i.Executable, i.Target, append(argvBase(verb, i.Target), args...))
}

// Activate invokes the activate operation for a service.
func (i *Interface) Activate(container, typ string, args []KeyValue, service string) *Operation {
	argv := appendContainerArgs(nil, container, typ, args)
	argv = append(argv, service)

	return i.detached("activate", argv)
}

// Deactivate invokes the deactivate operation for a service.
func (i *Interface) Deactivate(container, typ string, args []KeyValue, service string) *Operation {
	argv := appendContainerArgs(nil, container, typ, args)
	argv = append(argv, service)

	return i.detached("deactivate", argv)
}

// Lock acquires the per-target coordination lock for profile.
func (i *Interface) Lock(profile string) *Operation {
	return i.detached("lock", []string{profile})
}

// Unlock releases the per-target coordination lock for profile.
func (i *Interface) Unlock(profile string) *Operation {
	return i.detached("unlock", []string{profile})
}

// Snapshot takes a state snapshot of a component.
func (i *Interface) Snapshot(container, typ string, args []KeyValue, service string) *Operation {
	argv := appendContainerArgs(nil, container, typ, args)
	argv = append(argv, service)

	return i.detached("snapshot", argv)
}

// Restore restores a component's state from its most recent snapshot.
func (i *Interface) Restore(container, typ string, args []KeyValue, service string) *Operation {
	argv := appendContainerArgs(nil, container, typ, args)
	argv = append(argv, service)

	return i.detached("restore", argv)
}

// DeleteState removes a component's persisted state.
func (i *Interface) DeleteState(container, typ string, args []KeyValue, service string) *Operation {
	argv := appendContainerArgs(nil, container, typ, args)
	argv = append(argv, service)

	return i.detached("delete-state", argv)
}

// CollectGarbage runs garbage collection on the target's Nix store.
func (i *Interface) CollectGarbage(deleteOld bool) *Operation {
	if deleteOld {
		return i.detached("collect-garbage", []string{"-d"})
	}

	return i.detached("collect-garbage", nil)
}

// Set points profile at component on the target.
func (i *Interface) Set(profile, component string) *Operation {
	return i.detached("set", []string{profile, component})
}

// QueryInstalled lists the service names installed under profile.
func (i *Interface) QueryInstalled(profile string) *Operation {
	return i.future("query-installed", []string{profile})
}

// CopyClosureTo pushes the closures of paths onto the target.
func (i *Interface) CopyClosureTo(paths []string) *Operation {
	return i.detached("copy-closure-to", paths)
}

// CopyClosureFrom pulls the closures of paths from the target.
func (i *Interface) CopyClosureFrom(paths []string) *Operation {
	return i.detached("copy-closure-from", paths)
}

// CopySnapshotsTo pushes component snapshots of container onto the target.
func (i *Interface) CopySnapshotsTo(container, component string, all bool) *Operation {
	return i.detached("copy-snapshots-to", snapshotArgs(container, component, all))
}

// CopySnapshotsFrom pulls component snapshots of container from the target.
func (i *Interface) CopySnapshotsFrom(container, component string, all bool) *Operation {
	return i.detached("copy-snapshots-from", snapshotArgs(container, component, all))
}

func snapshotArgs(container, component string, all bool) []string {
	args := []string{"--container", container, "--component", component}
	if all {
		args = append(args, "--all")
	}

	return args
}

// CleanSnapshots prunes generations beyond keep for a component, or for
// every component when container/component are empty.
func (i *Interface) CleanSnapshots(keep int, container, component string) *Operation {
	args := []string{"--keep", strconv.Itoa(keep)}

	if container != "" {
		args = append(args, "--container", container)
	}

	if component != "" {
		args = append(args, "--component", component)
	}

	return i.detached("clean-snapshots", args)
}

// Realise builds derivation remotely, yielding its output store paths.
func (i *Interface) Realise(derivation string) *Operation {
	return i.future("realise", []string{derivation})
}

// CaptureConfig retrieves the target's current configuration document.
func (i *Interface) CaptureConfig() *Operation {
	return i.future("capture-config", nil)
}

