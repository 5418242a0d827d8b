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

import (
	"errors"
	"fmt"
)

// ErrAgentFailure is the sentinel wrapped by ExecError, letting callers
// test with errors.Is(err, agent.ErrAgentFailure) without caring about the
// specific verb/target/exit-status (§7: AgentFailure(verb, target, exit)).
var ErrAgentFailure = errors.New("agent operation failed")

// ExecError is returned when a client-interface child process exits
// non-zero or otherwise fails to run.
type ExecError struct {
	Verb   string
	Target string
	Err    error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("agent failure: verb=%s target=%s: %s", e.Verb, e.Target, e.Err)
}

func (e *ExecError) Unwrap() error {
	return ErrAgentFailure
}
