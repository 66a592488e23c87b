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

package embed

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aaronbanse/open-edhrec-embed/base/encoding"
	"github.com/aaronbanse/open-edhrec-embed/dataset"
	"github.com/aaronbanse/open-edhrec-embed/model"
)

// newCliqueTable builds two disjoint cliques under one commander: {A,B,C} and
// {D,E,F} each co-occur in 30 decklists, cross-clique pairs never co-occur.
// Ghost is declared but appears in no decklist.
func newCliqueTable(t *testing.T) (*dataset.Dataset, *dataset.RateTable) {
	d := dataset.NewDataset()
	d.DeclareCard("Ghost")
	for i := 0; i < 30; i++ {
		assert.NoError(t, d.AddDeck("Atraxis", []string{"A", "B", "C"}))
		assert.NoError(t, d.AddDeck("Atraxis", []string{"D", "E", "F"}))
	}
	table, err := dataset.NewRateTable(d.Aggregate(1), 1, true)
	assert.NoError(t, err)
	return d, table
}

func testParams() model.Params {
	return model.Params{
		model.NFactors:      8,
		model.NEpochs:       50,
		model.Lr:            0.1,
		model.Reg:           0.001,
		model.NegativeRatio: 2,
		model.BatchSize:     32,
		model.Window:        50,
		model.Tolerance:     1e-6,
		model.Patience:      50,
		model.RandomState:   42,
	}
}

func TestFit_LossDecreases(t *testing.T) {
	_, table := newCliqueTable(t)
	for _, name := range []string{"bilinear", "logistic"} {
		m, err := NewModel(name, testParams())
		assert.NoError(t, err)
		report, err := m.Fit(context.Background(), table, NewFitConfig())
		assert.NoError(t, err)
		assert.NotEqual(t, Diverged, report.State, name)
		assert.GreaterOrEqual(t, report.Epochs, 1, name)
		assert.Greater(t, report.Steps, 0, name)
		assert.LessOrEqual(t, report.FinalLoss, report.FirstEpochLoss, name)
	}
}

func TestFit_Deterministic(t *testing.T) {
	_, table := newCliqueTable(t)
	a := NewBilinear(testParams())
	b := NewBilinear(testParams())
	_, err := a.Fit(context.Background(), table, NewFitConfig())
	assert.NoError(t, err)
	_, err = b.Fit(context.Background(), table, NewFitConfig())
	assert.NoError(t, err)
	for i := int32(0); i < a.GetCardIndex().Count(); i++ {
		assert.Equal(t, a.GetCardFactor(i), b.GetCardFactor(i))
		assert.Equal(t, a.GetCardBias(i), b.GetCardBias(i))
	}
	for i := int32(0); i < a.GetCommanderIndex().Count(); i++ {
		assert.Equal(t, a.GetCommanderFactor(i), b.GetCommanderFactor(i))
	}
}

func TestFit_Converged(t *testing.T) {
	_, table := newCliqueTable(t)
	params := testParams().Overwrite(model.Params{
		model.Tolerance: 0.5, // absurdly loose, plateaus within a few epochs
		model.Patience:  2,
	})
	m := NewLogistic(params)
	epochs := 0
	config := NewFitConfig().SetOnEpoch(func(epoch, nEpochs int, loss float32) {
		epochs++
	})
	report, err := m.Fit(context.Background(), table, config)
	assert.NoError(t, err)
	assert.Equal(t, Converged, report.State)
	assert.Less(t, report.Epochs, 50)
	assert.Equal(t, report.Epochs, epochs)
}

func TestFit_Exhausted(t *testing.T) {
	_, table := newCliqueTable(t)
	params := testParams().Overwrite(model.Params{model.NEpochs: 3})
	m := NewLogistic(params)
	report, err := m.Fit(context.Background(), table, NewFitConfig())
	assert.NoError(t, err)
	assert.Equal(t, Exhausted, report.State)
	assert.Equal(t, 3, report.Epochs)
}

func TestFit_Cancelled(t *testing.T) {
	_, table := newCliqueTable(t)
	m := NewLogistic(testParams())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := m.Fit(ctx, table, NewFitConfig())
	assert.NoError(t, err)
	assert.Equal(t, Exhausted, report.State)
	assert.Zero(t, report.Steps)
	// the model remains usable after cancellation
	assert.False(t, m.Invalid())
}

func TestFit_Diverged(t *testing.T) {
	_, table := newCliqueTable(t)
	params := testParams().Overwrite(model.Params{model.Lr: 1e10})
	m := NewBilinear(params)
	report, err := m.Fit(context.Background(), table, NewFitConfig())
	assert.NoError(t, err)
	assert.Equal(t, Diverged, report.State)
	// weights roll back to the last completed epoch, or stay at their
	// initialization if the first epoch never completed
	assert.False(t, m.Invalid())
	for i := int32(0); i < m.GetCardIndex().Count(); i++ {
		for _, v := range m.GetCardFactor(i) {
			assert.False(t, v != v, "rolled-back weights must be finite")
		}
	}
}

func TestFit_InvalidParams(t *testing.T) {
	_, table := newCliqueTable(t)
	invalid := []model.Params{
		{model.NFactors: 0},
		{model.NEpochs: 0},
		{model.Lr: float32(0)},
		{model.LrDecay: float32(1.5)},
		{model.Reg: float32(-1)},
		{model.NegativeRatio: 0},
		{model.BatchSize: 0},
		{model.Window: 0},
		{model.Patience: 0},
		{model.Tolerance: float32(0)},
		{model.MaxGradient: float32(0)},
	}
	for _, params := range invalid {
		m := NewLogistic(testParams().Overwrite(params))
		_, err := m.Fit(context.Background(), table, NewFitConfig())
		assert.Error(t, err, "%v", params)
	}
}

func TestNeighbors_Cliques(t *testing.T) {
	_, table := newCliqueTable(t)
	m := NewLogistic(testParams())
	_, err := m.Fit(context.Background(), table, NewFitConfig())
	assert.NoError(t, err)
	for _, similarity := range []Similarity{Cosine, Euclidean} {
		neighbors, err := m.Neighbors("A", 2, similarity)
		assert.NoError(t, err)
		assert.Len(t, neighbors, 2)
		ids := []string{neighbors[0].Id, neighbors[1].Id}
		assert.ElementsMatch(t, []string{"B", "C"}, ids)
		// decreasing similarity
		assert.GreaterOrEqual(t, neighbors[0].Score, neighbors[1].Score)
	}
}

func TestNeighbors_ExcludesQueryAndUntrained(t *testing.T) {
	_, table := newCliqueTable(t)
	m := NewLogistic(testParams())
	_, err := m.Fit(context.Background(), table, NewFitConfig())
	assert.NoError(t, err)
	ghost, ok := m.GetCardIndex().Lookup("Ghost")
	assert.True(t, ok)
	assert.False(t, m.IsCardTrained(ghost))
	neighbors, err := m.Neighbors("A", 10, Cosine)
	assert.NoError(t, err)
	// 7 cards in the universe, minus the query and the unobserved one
	assert.Len(t, neighbors, 5)
	for _, neighbor := range neighbors {
		assert.NotEqual(t, "A", neighbor.Id)
		assert.NotEqual(t, "Ghost", neighbor.Id)
	}
}

func TestNeighbors_UnknownCard(t *testing.T) {
	_, table := newCliqueTable(t)
	m := NewLogistic(testParams())
	_, err := m.Fit(context.Background(), table, NewFitConfig())
	assert.NoError(t, err)
	_, err = m.Neighbors("Missingno", 3, Cosine)
	assert.Error(t, err)
}

func TestParseSimilarity(t *testing.T) {
	s, err := ParseSimilarity("cosine")
	assert.NoError(t, err)
	assert.Equal(t, Cosine, s)
	s, err = ParseSimilarity("euclidean")
	assert.NoError(t, err)
	assert.Equal(t, Euclidean, s)
	_, err = ParseSimilarity("manhattan")
	assert.Error(t, err)
}

func TestMarshal_RoundTrip(t *testing.T) {
	_, table := newCliqueTable(t)
	m := NewLogistic(testParams().Overwrite(model.Params{model.NEpochs: 5}))
	_, err := m.Fit(context.Background(), table, NewFitConfig())
	assert.NoError(t, err)

	buf := bytes.NewBuffer(nil)
	assert.NoError(t, MarshalModel(buf, m))
	loaded, err := UnmarshalModel(buf)
	assert.NoError(t, err)
	assert.Equal(t, "logistic", GetModelName(loaded))
	assert.False(t, loaded.(*Logistic).Invalid())

	// predictions survive the round trip exactly
	assert.Equal(t, m.Predict("Atraxis", "A", "B"), loaded.Predict("Atraxis", "A", "B"))
	assert.Equal(t, m.Predict("Atraxis", "A", "D"), loaded.Predict("Atraxis", "A", "D"))
	want, err := m.Neighbors("A", 3, Cosine)
	assert.NoError(t, err)
	got, err := loaded.Neighbors("A", 3, Cosine)
	assert.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestUnmarshalModel_UnknownScheme(t *testing.T) {
	_, err := NewModel("svd", nil)
	assert.Error(t, err)
	buf := bytes.NewBuffer(nil)
	assert.NoError(t, encoding.WriteString(buf, "svd"))
	_, err = UnmarshalModel(buf)
	assert.Error(t, err)
}

func TestMovingAverage(t *testing.T) {
	avg := newMovingAverage(3)
	assert.Zero(t, avg.Value())
	avg.Add(1)
	assert.InDelta(t, 1, avg.Value(), 1e-6)
	avg.Add(2)
	avg.Add(3)
	assert.InDelta(t, 2, avg.Value(), 1e-6)
	avg.Add(4) // evicts 1
	assert.InDelta(t, 3, avg.Value(), 1e-6)
}

func TestPredict_Unknown(t *testing.T) {
	_, table := newCliqueTable(t)
	m := NewLogistic(testParams().Overwrite(model.Params{model.NEpochs: 1}))
	_, err := m.Fit(context.Background(), table, NewFitConfig())
	assert.NoError(t, err)
	assert.Zero(t, m.Predict("Nobody", "A", "B"))
	assert.Zero(t, m.Predict("Atraxis", "Missingno", "B"))
	assert.Zero(t, m.Predict("Atraxis", "A", "Missingno"))
}
