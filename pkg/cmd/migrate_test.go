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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseComponentFiltersSplitsOnFirstColon(t *testing.T) {
	filters, err := parseComponentFilters([]string{"default:db", "other:cache"})
	require.NoError(t, err)
	require.Len(t, filters, 2)
	assert.Equal(t, "default", filters[0].Container)
	assert.Equal(t, "db", filters[0].Component)
	assert.Equal(t, "other", filters[1].Container)
	assert.Equal(t, "cache", filters[1].Component)
}

func TestParseComponentFiltersRejectsMissingColon(t *testing.T) {
	_, err := parseComponentFilters([]string{"db"})
	require.Error(t, err)
}

func TestParseComponentFiltersEmptyInputYieldsEmptyFilter(t *testing.T) {
	filters, err := parseComponentFilters(nil)
	require.NoError(t, err)
	assert.Empty(t, filters)
}
