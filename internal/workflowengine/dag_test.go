// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package workflowengine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func indexOf(steps []Step, name string) int {
	for i, s := range steps {
		if s.Name == name {
			return i
		}
	}
	return -1
}

func TestTopologicalSortOrdersByDependency(t *testing.T) {
	steps := []Step{
		{Name: "c", DependsOn: []string{"b"}},
		{Name: "a"},
		{Name: "b", DependsOn: []string{"a"}},
	}

	sorted, err := topologicalSort(steps)
	require.NoError(t, err)
	require.Len(t, sorted, 3)

	assert.Less(t, indexOf(sorted, "a"), indexOf(sorted, "b"))
	assert.Less(t, indexOf(sorted, "b"), indexOf(sorted, "c"))
}

func TestTopologicalSortPreservesAuthoredOrderAmongTies(t *testing.T) {
	steps := []Step{
		{Name: "first"},
		{Name: "second"},
		{Name: "third"},
	}

	sorted, err := topologicalSort(steps)
	require.NoError(t, err)

	require.Equal(t, []string{"first", "second", "third"}, names(sorted))
}

func names(steps []Step) []string {
	out := make([]string, len(steps))
	for i, s := range steps {
		out[i] = s.Name
	}
	return out
}

func TestTopologicalSortDetectsCycle(t *testing.T) {
	steps := []Step{
		{Name: "a", DependsOn: []string{"b"}},
		{Name: "b", DependsOn: []string{"a"}},
	}

	_, err := topologicalSort(steps)
	require.Error(t, err)

	var cycleErr *ErrCycle
	require.ErrorAs(t, err, &cycleErr)
}

func TestTopologicalSortDetectsSelfCycle(t *testing.T) {
	steps := []Step{
		{Name: "a", DependsOn: []string{"a"}},
	}

	_, err := topologicalSort(steps)
	require.Error(t, err)
}

func TestTopologicalSortRejectsUnknownDependency(t *testing.T) {
	// A depends_on referencing a step that doesn't exist never reaches
	// indegree zero, so it surfaces as a cycle rather than silently
	// vanishing from the ordering.
	steps := []Step{
		{Name: "a", DependsOn: []string{"missing"}},
	}

	_, err := topologicalSort(steps)
	require.Error(t, err)
}

func TestDependencyLevelsGroupsIntoWaves(t *testing.T) {
	steps := []Step{
		{Name: "a"},
		{Name: "b"},
		{Name: "c", DependsOn: []string{"a", "b"}},
		{Name: "d", DependsOn: []string{"c"}},
	}

	sorted, err := topologicalSort(steps)
	require.NoError(t, err)

	levels := dependencyLevels(sorted)
	require.Len(t, levels, 3)
	assert.ElementsMatch(t, []string{"a", "b"}, names(levels[0]))
	assert.ElementsMatch(t, []string{"c"}, names(levels[1]))
	assert.ElementsMatch(t, []string{"d"}, names(levels[2]))
}

func TestGraphReleaseTracksReadiness(t *testing.T) {
	steps := []Step{
		{Name: "a"},
		{Name: "b", DependsOn: []string{"a"}},
		{Name: "c", DependsOn: []string{"a"}},
	}
	g := buildGraph(steps)

	ready := g.initialReady(steps)
	require.Equal(t, []string{"a"}, ready)

	released := g.release("a")
	assert.ElementsMatch(t, []string{"b", "c"}, released)

	// b and c have no further dependents, so releasing them yields nothing.
	assert.Empty(t, g.release("b"))
	assert.Empty(t, g.release("c"))
}
