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

package cmd

import (
	"fmt"
	"os"

	"github.com/eschercloudai/disnix-go/pkg/agent"
	cmderrors "github.com/eschercloudai/disnix-go/pkg/cmd/errors"
	"github.com/eschercloudai/disnix-go/pkg/config"
	"github.com/eschercloudai/disnix-go/pkg/model"
	"github.com/eschercloudai/disnix-go/pkg/targets"
)

// loadInfrastructure opens and parses the infrastructure model named by
// o.InfrastructureXML into a ready-to-use target registry.
func loadInfrastructure(o *config.Options) (*targets.Registry, error) {
	f, err := os.Open(o.InfrastructureXML)
	if err != nil {
		return nil, fmt.Errorf("opening infrastructure model: %w", err)
	}
	defer f.Close()

	ts, err := model.LoadInfrastructure(f)
	if err != nil {
		return nil, fmt.Errorf("parsing infrastructure model: %w", err)
	}

	registry, err := targets.New(ts, "hostname")
	if err != nil {
		return nil, fmt.Errorf("indexing infrastructure model: %w", err)
	}

	return registry, nil
}

// loadManifest opens and parses the manifest document at path, returning
// nil with no error for an empty path (the "nothing deployed yet" case for
// --old-manifest).
func loadManifest(path string) (*model.Manifest, error) {
	if path == "" {
		return nil, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening manifest: %w", err)
	}
	defer f.Close()

	m, err := model.LoadManifest(f)
	if err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}

	return m, nil
}

// interfaceFactory resolves a target key to the agent.Interface that talks
// to it, looking up the configured client-interface executable via the
// registry (§3 Target.ClientInterface).
func interfaceFactory(registry *targets.Registry) func(targetKey string) (*agent.Interface, error) {
	return func(targetKey string) (*agent.Interface, error) {
		executable, ok := registry.FindInterface(targetKey)
		if !ok {
			return nil, fmt.Errorf("%w: target %q", cmderrors.ErrNotFound, targetKey)
		}

		return agent.New(executable, targetKey), nil
	}
}
