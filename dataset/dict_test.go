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

package dataset

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFreqDict(t *testing.T) {
	d := NewFreqDict()
	assert.Equal(t, int32(0), d.Id("Sol Ring"))
	assert.Equal(t, int32(1), d.Id("Arcane Signet"))
	assert.Equal(t, int32(0), d.Id("Sol Ring"))
	assert.Equal(t, int32(2), d.Count())
	assert.Equal(t, int32(2), d.Freq(0))
	assert.Equal(t, int32(1), d.Freq(1))

	s, ok := d.String(0)
	assert.True(t, ok)
	assert.Equal(t, "Sol Ring", s)
	_, ok = d.String(2)
	assert.False(t, ok)

	assert.Equal(t, int32(2), d.NotCount("Swords to Plowshares"))
	assert.Zero(t, d.Freq(2))

	y, ok := d.Lookup("Arcane Signet")
	assert.True(t, ok)
	assert.Equal(t, int32(1), y)
	_, ok = d.Lookup("Counterspell")
	assert.False(t, ok)
	assert.Equal(t, int32(3), d.Count())
}
