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

	"github.com/aaronbanse/open-edhrec-embed/base"
)

func newAtraxisRateTable(t *testing.T, weighted bool) (*Dataset, *RateTable) {
	d := newAtraxisDataset(t)
	table, err := NewRateTable(d.Aggregate(1), 1, weighted)
	assert.NoError(t, err)
	return d, table
}

func TestNewRateTable_InvalidAlpha(t *testing.T) {
	d := newAtraxisDataset(t)
	_, err := NewRateTable(d.Aggregate(1), 0, true)
	assert.Error(t, err)
	_, err = NewRateTable(d.Aggregate(1), -1, true)
	assert.Error(t, err)
}

func TestNewRateTable_NoPairs(t *testing.T) {
	d := NewDataset()
	assert.NoError(t, d.AddDeck("Atraxis", []string{"A"}))
	_, err := NewRateTable(d.Aggregate(1), 1, true)
	assert.Error(t, err)
}

func TestRate_OpenInterval(t *testing.T) {
	d, table := newAtraxisRateTable(t, true)
	m, _ := d.CommanderDict().Lookup("Atraxis")
	a, _ := d.CardDict().Lookup("A")
	b, _ := d.CardDict().Lookup("B")
	// (2 + 1) / (3 + 1*4)
	assert.InDelta(t, 3.0/7.0, table.Rate(m, a, b), 1e-6)
	assert.InDelta(t, 1.0/7.0, table.Floor(m), 1e-6)
	for _, rate := range []float32{table.Rate(m, a, b), table.Floor(m)} {
		assert.Greater(t, rate, float32(0))
		assert.Less(t, rate, float32(1))
	}
}

func TestSamplePositive_Weighted(t *testing.T) {
	d, table := newAtraxisRateTable(t, true)
	m, _ := d.CommanderDict().Lookup("Atraxis")
	a, _ := d.CardDict().Lookup("A")
	b, _ := d.CardDict().Lookup("B")
	rng := base.NewRandomGenerator(42)
	ab := 0
	for i := 0; i < 5000; i++ {
		s := table.SamplePositive(rng)
		assert.True(t, s.Positive)
		assert.True(t, table.Observed(s.Commander, s.CardA, s.CardB))
		if s.Commander == m && NewPair(s.CardA, s.CardB) == NewPair(a, b) {
			ab++
		}
	}
	// (A,B) carries 2 of 5 total pair observations
	assert.InDelta(t, 2000, ab, 200)
}

func TestSamplePositive_Uniform(t *testing.T) {
	d, table := newAtraxisRateTable(t, false)
	m, _ := d.CommanderDict().Lookup("Atraxis")
	a, _ := d.CardDict().Lookup("A")
	b, _ := d.CardDict().Lookup("B")
	rng := base.NewRandomGenerator(42)
	ab := 0
	for i := 0; i < 5000; i++ {
		s := table.SamplePositive(rng)
		if s.Commander == m && NewPair(s.CardA, s.CardB) == NewPair(a, b) {
			ab++
		}
	}
	// 1 of 4 distinct pairs
	assert.InDelta(t, 1250, ab, 200)
}

func TestSampleNegative_NeverObserved(t *testing.T) {
	d, table := newAtraxisRateTable(t, true)
	m, _ := d.CommanderDict().Lookup("Atraxis")
	rng := base.NewRandomGenerator(42)
	drawn := 0
	for i := 0; i < 1000; i++ {
		s, ok := table.SampleNegative(rng, m)
		if !ok {
			continue
		}
		drawn++
		assert.False(t, s.Positive)
		assert.NotEqual(t, s.CardA, s.CardB)
		// exhaustive guarantee: a negative is never in the positive map
		assert.False(t, table.Observed(m, s.CardA, s.CardB))
		assert.Equal(t, table.Floor(m), s.Rate)
	}
	// (B,D) and (C,D) are the only unobserved pairs, so draws succeed often
	assert.Greater(t, drawn, 0)
}

func TestSampleNegative_TooFewCards(t *testing.T) {
	d := NewDataset()
	assert.NoError(t, d.AddDeck("Atraxis", []string{"A", "B"}))
	assert.NoError(t, d.AddDeck("Solo", []string{"A"}))
	table, err := NewRateTable(d.Aggregate(1), 1, true)
	assert.NoError(t, err)
	solo, _ := d.CommanderDict().Lookup("Solo")
	rng := base.NewRandomGenerator(42)
	_, ok := table.SampleNegative(rng, solo)
	assert.False(t, ok)
}

func TestSampleNegative_Saturated(t *testing.T) {
	// every pair observed: rejection sampling must give up, not loop forever
	d := NewDataset()
	assert.NoError(t, d.AddDeck("Atraxis", []string{"A", "B"}))
	assert.NoError(t, d.AddDeck("Other", []string{"A", "C"}))
	table, err := NewRateTable(d.Aggregate(1), 1, true)
	assert.NoError(t, err)
	m, _ := d.CommanderDict().Lookup("Atraxis")
	rng := base.NewRandomGenerator(42)
	_, ok := table.SampleNegative(rng, m)
	assert.False(t, ok)
}

func TestRateTable_CountPositives(t *testing.T) {
	_, table := newAtraxisRateTable(t, true)
	assert.Equal(t, 4, table.CountPositives())
}
