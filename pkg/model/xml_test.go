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

package model_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eschercloudai/disnix-go/pkg/model"
)

const infrastructureXML = `<?xml version="1.0"?>
<infrastructure>
  <target name="t1">
    <system>x86_64-linux</system>
    <clientInterface>disnix-ssh-client</clientInterface>
    <targetProperty>hostname</targetProperty>
    <numOfCores>2</numOfCores>
    <properties>
      <hostname>t1.example.com</hostname>
      <zone>b</zone>
    </properties>
    <containers>
      <webserver>
        <port>8080</port>
      </webserver>
    </containers>
  </target>
  <target name="t2">
    <system>x86_64-linux</system>
    <clientInterface>disnix-ssh-client</clientInterface>
    <properties>
      <hostname>t2.example.com</hostname>
    </properties>
    <containers></containers>
  </target>
</infrastructure>`

func TestLoadInfrastructure(t *testing.T) {
	t.Parallel()

	targets, err := model.LoadInfrastructure(strings.NewReader(infrastructureXML))
	require.NoError(t, err)
	require.Len(t, targets, 2)

	t1 := targets[0]
	assert.Equal(t, "t1", t1.Name)
	assert.Equal(t, 2, t1.NumOfCores)
	assert.Equal(t, 2, t1.AvailableCores)

	key, ok := t1.Key("")
	require.True(t, ok)
	assert.Equal(t, "t1.example.com", key)

	// properties must be sorted by name.
	assert.Equal(t, "hostname", t1.Properties[0].Name)
	assert.Equal(t, "zone", t1.Properties[1].Name)

	container, ok := t1.Container("webserver")
	require.True(t, ok)
	assert.Equal(t, "webserver", container.Name)

	// t2 omits numOfCores, defaults to 1; omits targetProperty, falls
	// back to the default "hostname" property.
	t2 := targets[1]
	assert.Equal(t, 1, t2.NumOfCores)

	key2, ok := t2.Key("")
	require.True(t, ok)
	assert.Equal(t, "t2.example.com", key2)
}

func TestLoadInfrastructureDuplicateKeyIsMalformed(t *testing.T) {
	t.Parallel()

	const doc = `<infrastructure>
  <target name="a"><properties><hostname>same</hostname></properties></target>
  <target name="b"><properties><hostname>same</hostname></properties></target>
</infrastructure>`

	_, err := model.LoadInfrastructure(strings.NewReader(doc))
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrMalformedModel)
}

func TestLoadInfrastructureMissingName(t *testing.T) {
	t.Parallel()

	const doc = `<infrastructure><target><properties><hostname>x</hostname></properties></target></infrastructure>`

	_, err := model.LoadInfrastructure(strings.NewReader(doc))
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrMalformedModel)
}

const derivationXML = `<distributedderivation>
  <build>
    <mapping><derivation>/nix/store/abc.drv</derivation><target>t1.example.com</target></mapping>
    <mapping><derivation>/nix/store/def.drv</derivation><target>t2.example.com</target></mapping>
  </build>
</distributedderivation>`

func TestLoadDerivationItems(t *testing.T) {
	t.Parallel()

	items, err := model.LoadDerivationItems(strings.NewReader(derivationXML))
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, "/nix/store/abc.drv", items[0].Derivation)
	assert.False(t, items[0].Done())
}

const manifestXML = `<manifest>
  <services>
    <service>
      <name>A</name>
      <service>/nix/store/a</service>
      <type>process</type>
      <target>t1.example.com</target>
      <container>webserver</container>
    </service>
    <service>
      <name>B</name>
      <service>/nix/store/b</service>
      <type>process</type>
      <target>t1.example.com</target>
      <container>webserver</container>
      <dependsOn><dependency>A</dependency></dependsOn>
    </service>
  </services>
  <profiles>
    <mapping><target>t1.example.com</target><profile>default</profile><storePath>/nix/store/profile1</storePath></mapping>
  </profiles>
</manifest>`

func TestLoadManifestResolvesDependencies(t *testing.T) {
	t.Parallel()

	m, err := model.LoadManifest(strings.NewReader(manifestXML))
	require.NoError(t, err)
	require.Len(t, m.Services, 2)
	require.Len(t, m.Profiles, 1)

	b := m.Services[1]
	require.Len(t, b.DependsOn, 1)
	assert.Equal(t, "A", b.DependsOn[0].Name)
}

func TestLoadManifestUnknownDependency(t *testing.T) {
	t.Parallel()

	const doc = `<manifest><services><service>
    <name>A</name><target>t1</target>
    <dependsOn><dependency>ghost</dependency></dependsOn>
  </service></services></manifest>`

	_, err := model.LoadManifest(strings.NewReader(doc))
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrMalformedModel)
}
