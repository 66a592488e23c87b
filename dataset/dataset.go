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

// Package dataset turns raw per-commander decklists into commander-scoped
// co-occurrence statistics and smoothed occurrence rates. Counts are the
// durable statistic; rates are a view recomputed on demand.
package dataset

import (
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/juju/errors"

	"github.com/aaronbanse/open-edhrec-embed/common/parallel"
)

// Pair is an unordered card pair in canonical order (A < B), so a single map
// entry covers both lookup directions.
type Pair struct {
	A, B int32
}

// NewPair creates a canonical Pair from two distinct card indices.
func NewPair(a, b int32) Pair {
	if a > b {
		a, b = b, a
	}
	return Pair{A: a, B: b}
}

// Dataset accumulates decklists grouped by commander. Identifiers are opaque
// strings mapped to dense indices by growable dictionaries.
type Dataset struct {
	commanders *FreqDict
	cards      *FreqDict
	decks      [][][]int32 // decks[commander] = per-deck sorted card indices
	frozen     bool
}

func NewDataset() *Dataset {
	return &Dataset{
		commanders: NewFreqDict(),
		cards:      NewFreqDict(),
	}
}

// DeclareCard registers a card in the universe without observing it in any
// decklist. Its embedding will exist but never receive gradient updates.
func (d *Dataset) DeclareCard(name string) {
	d.cards.NotCount(name)
}

// DeclareCommander registers a commander with no decklists yet.
func (d *Dataset) DeclareCommander(name string) {
	index := d.commanders.NotCount(name)
	d.grow(index)
}

// Freeze closes the card universe. Decklists referencing unknown cards are
// rejected afterwards instead of growing the dictionaries.
func (d *Dataset) Freeze() {
	d.frozen = true
}

// AddDeck records one decklist built around a commander. Duplicate cards are
// deduplicated and the commander itself is silently excluded from the card set,
// since source scrapes sometimes include it in list form.
func (d *Dataset) AddDeck(commander string, cards []string) error {
	if d.frozen {
		if _, ok := d.commanders.Lookup(commander); !ok {
			return errors.NotFoundf("commander %q outside the declared universe", commander)
		}
		for _, card := range cards {
			if _, ok := d.cards.Lookup(card); !ok && card != commander {
				return errors.NotFoundf("card %q outside the declared universe", card)
			}
		}
	}
	commanderIndex := d.commanders.Id(commander)
	d.grow(commanderIndex)
	seen := mapset.NewThreadUnsafeSet[string]()
	indices := make([]int32, 0, len(cards))
	for _, card := range cards {
		if card == commander || seen.Contains(card) {
			continue
		}
		seen.Add(card)
		indices = append(indices, d.cards.Id(card))
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })
	d.decks[commanderIndex] = append(d.decks[commanderIndex], indices)
	return nil
}

func (d *Dataset) grow(commanderIndex int32) {
	for int32(len(d.decks)) <= commanderIndex {
		d.decks = append(d.decks, nil)
	}
}

func (d *Dataset) CommanderDict() *FreqDict {
	return d.commanders
}

func (d *Dataset) CardDict() *FreqDict {
	return d.cards
}

func (d *Dataset) CountCommanders() int32 {
	return d.commanders.Count()
}

func (d *Dataset) CountCards() int32 {
	return d.cards.Count()
}

// CountDecks returns the number of decklists observed for a commander.
func (d *Dataset) CountDecks(commanderIndex int32) int {
	if commanderIndex < 0 || commanderIndex >= int32(len(d.decks)) {
		return 0
	}
	return len(d.decks[commanderIndex])
}

// CommanderStats holds the co-occurrence statistics of one commander's deck
// population. Pair counts are symmetric by construction of Pair.
type CommanderStats struct {
	Decks      int
	Pairs      map[Pair]int32
	Inclusions map[int32]int32
}

// Statistics is the aggregated snapshot over all commanders. Immutable once
// built; samplers read it without synchronization.
type Statistics struct {
	commanders *FreqDict
	cards      *FreqDict
	stats      []*CommanderStats
}

// Aggregate builds per-commander pair counts and inclusion counts. Commanders
// are independent, so the build parallelizes across them without coordination.
// Rebuilding from the same snapshot yields identical counts.
func (d *Dataset) Aggregate(jobs int) *Statistics {
	stats := make([]*CommanderStats, len(d.decks))
	parallel.For(len(d.decks), jobs, func(commanderIndex int) {
		s := &CommanderStats{
			Decks:      len(d.decks[commanderIndex]),
			Pairs:      make(map[Pair]int32),
			Inclusions: make(map[int32]int32),
		}
		for _, deck := range d.decks[commanderIndex] {
			for i, a := range deck {
				s.Inclusions[a]++
				for _, b := range deck[i+1:] {
					s.Pairs[NewPair(a, b)]++
				}
			}
		}
		stats[commanderIndex] = s
	})
	return &Statistics{
		commanders: d.commanders,
		cards:      d.cards,
		stats:      stats,
	}
}

func (s *Statistics) CommanderDict() *FreqDict {
	return s.commanders
}

func (s *Statistics) CardDict() *FreqDict {
	return s.cards
}

func (s *Statistics) CountCommanders() int32 {
	return int32(len(s.stats))
}

// Decks returns the number of decklists aggregated for a commander.
func (s *Statistics) Decks(commanderIndex int32) int {
	if commanderIndex < 0 || commanderIndex >= int32(len(s.stats)) {
		return 0
	}
	return s.stats[commanderIndex].Decks
}

// Count returns the co-occurrence count of a card pair under a commander.
func (s *Statistics) Count(commanderIndex, a, b int32) int32 {
	if commanderIndex < 0 || commanderIndex >= int32(len(s.stats)) {
		return 0
	}
	return s.stats[commanderIndex].Pairs[NewPair(a, b)]
}

// Inclusion returns the number of the commander's decklists containing a card.
func (s *Statistics) Inclusion(commanderIndex, card int32) int32 {
	if commanderIndex < 0 || commanderIndex >= int32(len(s.stats)) {
		return 0
	}
	return s.stats[commanderIndex].Inclusions[card]
}

// Commander returns the raw statistics of one commander.
func (s *Statistics) Commander(commanderIndex int32) *CommanderStats {
	return s.stats[commanderIndex]
}
