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

package targets

import (
	"fmt"

	"github.com/eschercloudai/disnix-go/pkg/model"
)

// errMalformed is model.ErrMalformedModel, which registry construction
// failures unwrap to, since a registry-building failure is itself a model
// problem.
var errMalformed = model.ErrMalformedModel

// UnresolvableKeyError is returned when a target has no resolvable key.
type UnresolvableKeyError struct {
	Target string
}

func (e *UnresolvableKeyError) Error() string {
	return fmt.Sprintf("target %q has no resolvable key", e.Target)
}

func (e *UnresolvableKeyError) Unwrap() error {
	return errMalformed
}

// DuplicateKeyError is returned when two targets resolve to the same key
// (§9 open question: rejected rather than silently coalesced).
type DuplicateKeyError struct {
	Key string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("two targets resolve to key %q", e.Key)
}

func (e *DuplicateKeyError) Unwrap() error {
	return errMalformed
}
