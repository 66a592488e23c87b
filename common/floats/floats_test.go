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

package floats

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDot(t *testing.T) {
	a := []float32{1, 2, 3}
	b := []float32{4, 5, 6}
	assert.Equal(t, float32(32), Dot(a, b))
	assert.Panics(t, func() { Dot(a, []float32{1}) })
}

func TestEuclidean(t *testing.T) {
	a := []float32{0, 3}
	b := []float32{4, 0}
	assert.Equal(t, float32(5), Euclidean(a, b))
}

func TestNorm(t *testing.T) {
	assert.Equal(t, float32(5), Norm([]float32{3, 4}))
}

func TestMulConstAdd(t *testing.T) {
	a := []float32{1, 2, 3}
	dst := []float32{1, 1, 1}
	MulConstAdd(a, 2, dst)
	assert.Equal(t, []float32{3, 5, 7}, dst)
}

func TestMulConstAddTo(t *testing.T) {
	a := []float32{1, 2, 3}
	b := []float32{1, 1, 1}
	dst := make([]float32, 3)
	MulConstAddTo(a, 2, b, dst)
	assert.Equal(t, []float32{3, 5, 7}, dst)
}

func TestMulConstTo(t *testing.T) {
	a := []float32{1, 2, 3}
	dst := make([]float32, 3)
	MulConstTo(a, -1, dst)
	assert.Equal(t, []float32{-1, -2, -3}, dst)
}

func TestAddSub(t *testing.T) {
	a := []float32{1, 2}
	Add(a, []float32{1, 1})
	assert.Equal(t, []float32{2, 3}, a)
	Sub(a, []float32{2, 3})
	assert.Equal(t, []float32{0, 0}, a)
	dst := make([]float32, 2)
	AddTo([]float32{1, 2}, []float32{3, 4}, dst)
	assert.Equal(t, []float32{4, 6}, dst)
	SubTo([]float32{3, 4}, []float32{1, 2}, dst)
	assert.Equal(t, []float32{2, 2}, dst)
}

func TestZero(t *testing.T) {
	a := []float32{1, 2}
	Zero(a)
	assert.Equal(t, []float32{0, 0}, a)
	m := [][]float32{{1}, {2}}
	MatZero(m)
	assert.Equal(t, [][]float32{{0}, {0}}, m)
}
