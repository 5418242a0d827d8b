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

import "errors"

var (
	// ErrMalformedModel is raised when a document is missing a mandatory
	// child element or attribute, or two targets resolve to the same key.
	ErrMalformedModel = errors.New("malformed model document")

	// ErrUnknownTarget is raised when an item references a target key that
	// is not present in the loaded infrastructure.
	ErrUnknownTarget = errors.New("unknown target")
)
