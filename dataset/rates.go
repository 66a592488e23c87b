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
	"sort"

	"github.com/juju/errors"

	"github.com/aaronbanse/open-edhrec-embed/base"
)

// maxNegativeAttempts caps rejection sampling before a commander is skipped
// for the current draw.
const maxNegativeAttempts = 64

// Sample is one training observation drawn from the rate table.
type Sample struct {
	Commander int32
	CardA     int32
	CardB     int32
	Rate      float32
	Positive  bool
}

type positive struct {
	commander int32
	pair      Pair
	count     int32
}

// RateTable normalizes aggregated counts into Laplace-smoothed occurrence
// rates and exposes positive and negative pair sampling. The underlying
// Statistics are treated as immutable, so sampling may run concurrently with
// training reads.
//
// rate(m, a, b) = (count + alpha) / (decks(m) + alpha * domain(m))
//
// where domain(m) is the number of distinct cards observed under commander m.
// Smoothing keeps every rate strictly inside (0, 1), so log targets are always
// finite.
type RateTable struct {
	stats    *Statistics
	alpha    float32
	weighted bool

	positives []positive
	posCum    []float64

	commanderCards [][]int32   // distinct observed cards per commander, ascending
	cardCum        [][]float64 // cumulative inclusion weights, aligned with commanderCards
}

// NewRateTable builds the sampling view over an aggregated snapshot. Positive
// sampling is frequency-weighted when weighted is true, uniform over distinct
// observed pairs otherwise. Commanders without decklists contribute nothing.
func NewRateTable(stats *Statistics, alpha float32, weighted bool) (*RateTable, error) {
	if alpha <= 0 {
		return nil, errors.NotValidf("smoothing constant alpha = %v", alpha)
	}
	t := &RateTable{
		stats:          stats,
		alpha:          alpha,
		weighted:       weighted,
		commanderCards: make([][]int32, stats.CountCommanders()),
		cardCum:        make([][]float64, stats.CountCommanders()),
	}
	for m := int32(0); m < stats.CountCommanders(); m++ {
		s := stats.Commander(m)
		// Map iteration order is random, sort for reproducible sampling.
		pairs := make([]Pair, 0, len(s.Pairs))
		for p := range s.Pairs {
			pairs = append(pairs, p)
		}
		sort.Slice(pairs, func(i, j int) bool {
			return pairs[i].A < pairs[j].A || (pairs[i].A == pairs[j].A && pairs[i].B < pairs[j].B)
		})
		for _, p := range pairs {
			t.positives = append(t.positives, positive{commander: m, pair: p, count: s.Pairs[p]})
		}
		cards := make([]int32, 0, len(s.Inclusions))
		for c := range s.Inclusions {
			cards = append(cards, c)
		}
		sort.Slice(cards, func(i, j int) bool { return cards[i] < cards[j] })
		t.commanderCards[m] = cards
		cum := make([]float64, len(cards))
		var total float64
		for i, c := range cards {
			total += float64(s.Inclusions[c])
			cum[i] = total
		}
		t.cardCum[m] = cum
	}
	if len(t.positives) == 0 {
		return nil, errors.NotValidf("decklist snapshot with no observed card pair")
	}
	t.posCum = make([]float64, len(t.positives))
	var total float64
	for i, p := range t.positives {
		total += float64(p.count)
		t.posCum[i] = total
	}
	return t, nil
}

// CountPositives returns the number of distinct observed (commander, pair)
// entries. One epoch visits this many positive samples.
func (t *RateTable) CountPositives() int {
	return len(t.positives)
}

// Statistics returns the underlying aggregated snapshot.
func (t *RateTable) Statistics() *Statistics {
	return t.stats
}

// Rate returns the smoothed occurrence rate of a pair under a commander.
func (t *RateTable) Rate(commander, a, b int32) float32 {
	return t.smoothed(commander, t.stats.Count(commander, a, b))
}

// Floor returns the smoothed rate of an unobserved pair under a commander,
// used as the target for negative samples.
func (t *RateTable) Floor(commander int32) float32 {
	return t.smoothed(commander, 0)
}

func (t *RateTable) smoothed(commander, count int32) float32 {
	decks := float32(t.stats.Decks(commander))
	domain := float32(len(t.commanderCards[commander]))
	return (float32(count) + t.alpha) / (decks + t.alpha*domain)
}

// Observed reports whether a pair co-occurred at least once under a commander.
func (t *RateTable) Observed(commander, a, b int32) bool {
	return t.stats.Count(commander, a, b) > 0
}

// SamplePositive draws an observed pair with its smoothed rate.
func (t *RateTable) SamplePositive(rng base.RandomGenerator) Sample {
	var index int
	if t.weighted {
		index = rng.WeightedIndex(t.posCum)
	} else {
		index = rng.Intn(len(t.positives))
	}
	p := t.positives[index]
	return Sample{
		Commander: p.commander,
		CardA:     p.pair.A,
		CardB:     p.pair.B,
		Rate:      t.smoothed(p.commander, p.count),
		Positive:  true,
	}
}

// SampleNegative draws a pair never jointly observed under the commander, with
// both cards drawn independently weighted by inclusion popularity. Returns
// false for commanders with fewer than two distinct cards, or when rejection
// sampling exhausts its attempts (a dense commander where most pairs are
// observed). An unobserved pair may still co-occur in unseen decks; that
// approximation is accepted, not an error.
func (t *RateTable) SampleNegative(rng base.RandomGenerator, commander int32) (Sample, bool) {
	cards := t.commanderCards[commander]
	if len(cards) < 2 {
		return Sample{}, false
	}
	cum := t.cardCum[commander]
	for attempt := 0; attempt < maxNegativeAttempts; attempt++ {
		a := cards[rng.WeightedIndex(cum)]
		b := cards[rng.WeightedIndex(cum)]
		if a == b || t.Observed(commander, a, b) {
			continue
		}
		return Sample{
			Commander: commander,
			CardA:     a,
			CardB:     b,
			Rate:      t.Floor(commander),
			Positive:  false,
		}, true
	}
	return Sample{}, false
}
