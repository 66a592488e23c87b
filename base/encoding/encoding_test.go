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

package encoding

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVector(t *testing.T) {
	buf := bytes.NewBuffer(nil)
	v := []float32{1.5, -2.25, 0, 3}
	assert.NoError(t, WriteVector(buf, v))
	read := make([]float32, len(v))
	assert.NoError(t, ReadVector(buf, read))
	assert.Equal(t, v, read)
}

func TestString(t *testing.T) {
	buf := bytes.NewBuffer(nil)
	assert.NoError(t, WriteString(buf, "Sol Ring"))
	s, err := ReadString(buf)
	assert.NoError(t, err)
	assert.Equal(t, "Sol Ring", s)
}

func TestGob(t *testing.T) {
	buf := bytes.NewBuffer(nil)
	in := map[string]int{"a": 1, "b": 2}
	assert.NoError(t, WriteGob(buf, in))
	var out map[string]int
	assert.NoError(t, ReadGob(buf, &out))
	assert.Equal(t, in, out)
}

func TestFormatFloat32(t *testing.T) {
	assert.Equal(t, "0.5", FormatFloat32(0.5))
}
