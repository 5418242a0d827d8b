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

// Package model holds the typed, in-memory representation of the
// distributed-derivation, infrastructure, and manifest documents, and the
// loader that turns the XML wire format (§6) into these types.
package model

// Property is a single name/value pair attached to a Target or Container.
// Property lists are kept sorted by Name so that lookups are a binary
// search and equality between two loaded models is stable across runs.
type Property struct {
	Name  string
	Value string
}

// Properties is a lexicographically-sorted-by-name slice of Property.
type Properties []Property

// Get performs a binary search for name, returning the value and whether it
// was found.
func (p Properties) Get(name string) (string, bool) {
	lo, hi := 0, len(p)

	for lo < hi {
		mid := (lo + hi) / 2

		switch {
		case p[mid].Name == name:
			return p[mid].Value, true
		case p[mid].Name < name:
			lo = mid + 1
		default:
			hi = mid
		}
	}

	return "", false
}

// Container is a named execution environment on a Target, e.g. a web
// server instance or a DBMS, carrying a property mapping used as
// activation context.
type Container struct {
	Name       string
	Properties Properties
}

// defaultNumOfCores is applied when an infrastructure document omits
// numOfCores for a target, matching the original loader's default of 1.
const defaultNumOfCores = 1

// defaultTargetProperty is the property name consulted for the target key
// when a target does not declare its own targetProperty.
const defaultTargetProperty = "hostname"

// Target is a machine in the fleet.
type Target struct {
	Name            string
	System          string
	ClientInterface string
	TargetProperty  string
	NumOfCores      int
	AvailableCores  int
	Properties      Properties
	Containers      []Container
}

// Key returns the address used to reach this target's agent: the value of
// one property, named by TargetProperty if set, else by defaultProperty (the
// caller-supplied default property name) if non-empty, else "hostname" per
// the original loader's default. Only that one property is looked up; if
// it is absent, Key reports false.
func (t *Target) Key(defaultProperty string) (string, bool) {
	propName := t.TargetProperty
	if propName == "" {
		propName = defaultProperty
	}

	if propName == "" {
		propName = defaultTargetProperty
	}

	return t.Properties.Get(propName)
}

// Container looks up a container by name.
func (t *Target) Container(name string) (*Container, bool) {
	for i := range t.Containers {
		if t.Containers[i].Name == name {
			return &t.Containers[i], true
		}
	}

	return nil, false
}

// DerivationItem is a unit of remote build.
type DerivationItem struct {
	Derivation string
	Target     string

	// Result is populated after a successful realise; it is the only
	// mutable field of a work item, written exactly once by the
	// completion handler for this item's build process.
	Result []string
}

// Done reports whether this item has completed successfully. Result is
// non-empty iff the item has completed successfully.
func (d *DerivationItem) Done() bool {
	return len(d.Result) > 0
}

// Argument is a single activation argument (key, value) passed to activate
// and deactivate operations.
type Argument struct {
	Key   string
	Value string
}

// ManifestService is a deployed component instance.
type ManifestService struct {
	Name      string
	Service   string
	Type      string
	Target    string
	Container string

	// DependsOn is the ordered list of services this one depends on,
	// resolved by the loader from name references within the manifest.
	DependsOn []*ManifestService

	Arguments []Argument
}

// ProfileMapping is, for one target, the opaque profile identifier plus
// the store path representing the union of services to install there.
type ProfileMapping struct {
	Target    string
	Profile   string
	StorePath string
}

// SnapshotMapping moves the state of one (target, container, component)
// tuple from a source target to a destination target during an upgrade.
type SnapshotMapping struct {
	Container string
	Component string
	From      string
	To        string
}

// Manifest is the full declarative snapshot of a fleet's desired state.
type Manifest struct {
	Services  []*ManifestService
	Profiles  []ProfileMapping
	Snapshots []SnapshotMapping
}
