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

package agent_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eschercloudai/disnix-go/pkg/agent"
)

func TestActivateBuildsOperationForTarget(t *testing.T) {
	t.Parallel()

	i := &agent.Interface{Executable: "/bin/sh", Target: "t1.example.com"}
	// The operation is built but not run: this checks only that it is
	// bound to the interface's target and carries a handle.
	op := i.Activate("web", "process", []agent.KeyValue{{Key: "port", Value: "8080"}}, "/nix/store/abc")
	assert.Equal(t, "t1.example.com", op.Target)
	assert.NotEmpty(t, op.Handle)
}

func TestDetachedOperationReportsAgentFailure(t *testing.T) {
	t.Parallel()

	// /bin/false always exits 1, modelling a failing activate.
	i := &agent.Interface{Executable: "/bin/false", Target: "t1.example.com"}

	op := i.Activate("web", "process", nil, "/nix/store/abc")

	_, err := op.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, agent.ErrAgentFailure))

	var execErr *agent.ExecError
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, "activate", execErr.Verb)
	assert.Equal(t, "t1.example.com", execErr.Target)
}

func TestFutureOperationCapturesStdout(t *testing.T) {
	t.Parallel()

	// /bin/echo prints its argv joined by spaces and a trailing newline;
	// used here as a stand-in future-style interface that "returns" one
	// output line per invocation.
	i := &agent.Interface{Executable: "/bin/echo", Target: "t1.example.com"}

	op := i.Realise("/nix/store/abc.drv")

	result, err := op.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, result, 1)
	assert.Contains(t, result[0], "realise")
	assert.Contains(t, result[0], "/nix/store/abc.drv")
}

func TestDetachedOperationSuccess(t *testing.T) {
	t.Parallel()

	i := &agent.Interface{Executable: "/bin/true", Target: "t1.example.com"}

	op := i.Lock("default")

	result, err := op.Run(context.Background())
	require.NoError(t, err)
	assert.Nil(t, result)
}
