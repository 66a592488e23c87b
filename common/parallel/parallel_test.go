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

package parallel

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFor(t *testing.T) {
	for _, workers := range []int{1, 4} {
		hits := make([]int32, 100)
		For(len(hits), workers, func(jobId int) {
			atomic.AddInt32(&hits[jobId], 1)
		})
		for _, hit := range hits {
			assert.Equal(t, int32(1), hit)
		}
	}
}

func TestForEach(t *testing.T) {
	for _, workers := range []int{1, 4} {
		a := []int32{1, 2, 3, 4, 5}
		var sum int32
		ForEach(a, workers, func(_ int, v int32) {
			atomic.AddInt32(&sum, v)
		})
		assert.Equal(t, int32(15), sum)
	}
}
