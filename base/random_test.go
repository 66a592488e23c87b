// Copyright 2025 open-edhrec-embed Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package base

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRandomGenerator_Deterministic(t *testing.T) {
	a := NewRandomGenerator(42)
	b := NewRandomGenerator(42)
	assert.Equal(t, a.UniformMatrix(10, 8, -1, 1), b.UniformMatrix(10, 8, -1, 1))
	assert.Equal(t, a.Int63(), b.Int63())
}

func TestRandomGenerator_UniformVector(t *testing.T) {
	rng := NewRandomGenerator(0)
	v := rng.UniformVector(1000, -0.125, 0.125)
	assert.Len(t, v, 1000)
	for _, x := range v {
		assert.GreaterOrEqual(t, x, float32(-0.125))
		assert.Less(t, x, float32(0.125))
	}
}

func TestRandomGenerator_WeightedIndex(t *testing.T) {
	rng := NewRandomGenerator(0)
	// weights 1, 0, 9 as cumulative sums
	cum := []float64{1, 1, 10}
	counts := make([]int, 3)
	for i := 0; i < 10000; i++ {
		counts[rng.WeightedIndex(cum)]++
	}
	assert.Zero(t, counts[1])
	assert.Greater(t, counts[2], counts[0])
	assert.InDelta(t, 1000, counts[0], 150)
}
