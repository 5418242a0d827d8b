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

package model

import (
	"cmp"
	"encoding/xml"
	"fmt"
	"io"

	"golang.org/x/exp/slices"
)

// xmlProperty is the wire shape of a single named child element carrying a
// scalar value, used for both <properties>/<propName> and
// <containers>/<containerName>/<propName>.
type xmlProperty struct {
	XMLName xml.Name
	Value   string `xml:",chardata"`
}

// xmlPropertyGroup is a wire element whose children are each an
// arbitrarily-named property, e.g. <properties> or a single container.
type xmlPropertyGroup struct {
	Properties []xmlProperty `xml:",any"`
}

func (g xmlPropertyGroup) toProperties() Properties {
	out := make(Properties, 0, len(g.Properties))

	for _, p := range g.Properties {
		out = append(out, Property{Name: p.XMLName.Local, Value: p.Value})
	}

	sortProperties(out)

	return out
}

// sortProperties sorts in place by name, duplicating no string data beyond
// what encoding/xml already copied out of the decoder's buffer (the loader
// does not retain references to the underlying XML tree).
func sortProperties(p Properties) {
	slices.SortFunc(p, func(a, b Property) int { return cmp.Compare(a.Name, b.Name) })
}

// xmlContainer is one named child of <containers>, itself a property group.
type xmlContainer struct {
	XMLName    xml.Name
	Properties []xmlProperty `xml:",any"`
}

// xmlTarget is one /infrastructure/target element.
type xmlTarget struct {
	Name            string             `xml:"name,attr"`
	System          string             `xml:"system"`
	ClientInterface string             `xml:"clientInterface"`
	TargetProperty  string             `xml:"targetProperty"`
	NumOfCores      int                `xml:"numOfCores"`
	Properties      xmlPropertyGroup   `xml:"properties"`
	Containers      struct {
		Containers []xmlContainer `xml:",any"`
	} `xml:"containers"`
}

// xmlInfrastructure is the root /infrastructure document (post-XSLT
// normalization, per §6 — normalization itself is out of scope, §1).
type xmlInfrastructure struct {
	XMLName xml.Name    `xml:"infrastructure"`
	Targets []xmlTarget `xml:"target"`
}

// LoadInfrastructure parses an infrastructure XML document into Targets.
// Missing mandatory attributes fail with ErrMalformedModel and no partial
// structure is returned (§4.A policy).
func LoadInfrastructure(r io.Reader) ([]Target, error) {
	var doc xmlInfrastructure

	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedModel, err)
	}

	targets := make([]Target, 0, len(doc.Targets))
	seenKeys := make(map[string]struct{}, len(doc.Targets))

	for _, xt := range doc.Targets {
		if xt.Name == "" {
			return nil, fmt.Errorf("%w: target missing name attribute", ErrMalformedModel)
		}

		numOfCores := xt.NumOfCores
		if numOfCores == 0 {
			numOfCores = defaultNumOfCores
		}

		containers := make([]Container, 0, len(xt.Containers.Containers))

		for _, xc := range xt.Containers.Containers {
			containers = append(containers, Container{
				Name:       xc.XMLName.Local,
				Properties: xmlPropertyGroup{Properties: xc.Properties}.toProperties(),
			})
		}

		slices.SortFunc(containers, func(a, b Container) int { return cmp.Compare(a.Name, b.Name) })

		target := Target{
			Name:            xt.Name,
			System:          xt.System,
			ClientInterface: xt.ClientInterface,
			TargetProperty:  xt.TargetProperty,
			NumOfCores:      numOfCores,
			AvailableCores:  numOfCores,
			Properties:      xt.Properties.toProperties(),
			Containers:      containers,
		}

		key, ok := target.Key("")
		if !ok {
			return nil, fmt.Errorf("%w: target %q has no resolvable key", ErrMalformedModel, target.Name)
		}

		if _, dup := seenKeys[key]; dup {
			return nil, fmt.Errorf("%w: two targets resolve to key %q", ErrMalformedModel, key)
		}

		seenKeys[key] = struct{}{}

		targets = append(targets, target)
	}

	return targets, nil
}

// xmlMapping is one /distributedderivation/build/mapping element.
type xmlMapping struct {
	Derivation string `xml:"derivation"`
	Target     string `xml:"target"`
}

type xmlDistributedDerivation struct {
	XMLName xml.Name `xml:"distributedderivation"`
	Build   struct {
		Mappings []xmlMapping `xml:"mapping"`
	} `xml:"build"`
}

// LoadDerivationItems parses a distributed-derivation XML document into
// DerivationItems, each initially without a Result (§3: Result is
// non-empty iff the item has completed).
func LoadDerivationItems(r io.Reader) ([]DerivationItem, error) {
	var doc xmlDistributedDerivation

	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedModel, err)
	}

	items := make([]DerivationItem, 0, len(doc.Build.Mappings))

	for _, m := range doc.Build.Mappings {
		if m.Derivation == "" || m.Target == "" {
			return nil, fmt.Errorf("%w: mapping missing derivation or target", ErrMalformedModel)
		}

		items = append(items, DerivationItem{Derivation: m.Derivation, Target: m.Target})
	}

	return items, nil
}

// xmlArgument is one <argument><name>/<value></argument> pair.
type xmlArgument struct {
	Name  string `xml:"name"`
	Value string `xml:"value"`
}

// xmlManifestService is one /manifest/services/service element.
type xmlManifestService struct {
	Name      string        `xml:"name"`
	Service   string        `xml:"service"`
	Type      string        `xml:"type"`
	Target    string        `xml:"target"`
	Container string        `xml:"container"`
	DependsOn []string      `xml:"dependsOn>dependency"`
	Arguments []xmlArgument `xml:"arguments>argument"`
}

type xmlProfileMapping struct {
	Target    string `xml:"target"`
	Profile   string `xml:"profile"`
	StorePath string `xml:"storePath"`
}

type xmlSnapshotMapping struct {
	Container string `xml:"container"`
	Component string `xml:"component"`
	From      string `xml:"from"`
	To        string `xml:"to"`
}

type xmlManifest struct {
	XMLName  xml.Name `xml:"manifest"`
	Services struct {
		Services []xmlManifestService `xml:"service"`
	} `xml:"services"`
	Profiles struct {
		Mappings []xmlProfileMapping `xml:"mapping"`
	} `xml:"profiles"`
	Snapshots struct {
		Mappings []xmlSnapshotMapping `xml:"mapping"`
	} `xml:"snapshots"`
}

// LoadManifest parses a manifest XML document, resolving each service's
// dependsOn references into direct pointers to sibling ManifestServices.
func LoadManifest(r io.Reader) (*Manifest, error) {
	var doc xmlManifest

	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedModel, err)
	}

	services := make([]*ManifestService, 0, len(doc.Services.Services))
	byName := make(map[string]*ManifestService, len(doc.Services.Services))

	for _, xs := range doc.Services.Services {
		if xs.Name == "" || xs.Target == "" {
			return nil, fmt.Errorf("%w: service missing name or target", ErrMalformedModel)
		}

		args := make([]Argument, 0, len(xs.Arguments))
		for _, a := range xs.Arguments {
			args = append(args, Argument{Key: a.Name, Value: a.Value})
		}

		svc := &ManifestService{
			Name:      xs.Name,
			Service:   xs.Service,
			Type:      xs.Type,
			Target:    xs.Target,
			Container: xs.Container,
			Arguments: args,
		}

		services = append(services, svc)
		byName[svc.Name] = svc
	}

	for i, xs := range doc.Services.Services {
		for _, dep := range xs.DependsOn {
			depSvc, ok := byName[dep]
			if !ok {
				return nil, fmt.Errorf("%w: service %q depends on unknown service %q", ErrMalformedModel, xs.Name, dep)
			}

			services[i].DependsOn = append(services[i].DependsOn, depSvc)
		}
	}

	profiles := make([]ProfileMapping, 0, len(doc.Profiles.Mappings))
	for _, p := range doc.Profiles.Mappings {
		profiles = append(profiles, ProfileMapping{Target: p.Target, Profile: p.Profile, StorePath: p.StorePath})
	}

	snapshots := make([]SnapshotMapping, 0, len(doc.Snapshots.Mappings))
	for _, s := range doc.Snapshots.Mappings {
		snapshots = append(snapshots, SnapshotMapping{Container: s.Container, Component: s.Component, From: s.From, To: s.To})
	}

	return &Manifest{Services: services, Profiles: profiles, Snapshots: snapshots}, nil
}

// SaveManifest writes m back out in the same wire format LoadManifest reads,
// dependency pointers flattened to name references. It is used by the
// activation coordinator's commit stage to persist the deployed manifest as
// the new coordinator profile (§4.F COMMIT).
func SaveManifest(w io.Writer, m *Manifest) error {
	doc := xmlManifest{}

	for _, s := range m.Services {
		xs := xmlManifestService{
			Name:      s.Name,
			Service:   s.Service,
			Type:      s.Type,
			Target:    s.Target,
			Container: s.Container,
		}

		for _, dep := range s.DependsOn {
			xs.DependsOn = append(xs.DependsOn, dep.Name)
		}

		for _, a := range s.Arguments {
			xs.Arguments = append(xs.Arguments, xmlArgument{Name: a.Key, Value: a.Value})
		}

		doc.Services.Services = append(doc.Services.Services, xs)
	}

	for _, p := range m.Profiles {
		doc.Profiles.Mappings = append(doc.Profiles.Mappings, xmlProfileMapping{Target: p.Target, Profile: p.Profile, StorePath: p.StorePath})
	}

	for _, s := range m.Snapshots {
		doc.Snapshots.Mappings = append(doc.Snapshots.Mappings, xmlSnapshotMapping{Container: s.Container, Component: s.Component, From: s.From, To: s.To})
	}

	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")

	return enc.Encode(doc)
}
