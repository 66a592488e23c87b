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
	"github.com/juju/errors"

	"github.com/aaronbanse/open-edhrec-embed/common/floats"
	"github.com/aaronbanse/open-edhrec-embed/common/heap"
)

// Similarity selects the metric used by the neighbor inspector.
type Similarity int

const (
	Cosine Similarity = iota
	Euclidean
)

// ParseSimilarity maps a metric name to a Similarity.
func ParseSimilarity(name string) (Similarity, error) {
	switch name {
	case "cosine":
		return Cosine, nil
	case "euclidean":
		return Euclidean, nil
	}
	return Cosine, errors.NotValidf("similarity metric %q", name)
}

// Neighbor is one entry of a nearest-neighbor query result. Score is the
// similarity to the query card: cosine, or negated Euclidean distance so that
// larger is always closer.
type Neighbor struct {
	Id    string
	Score float32
}

// Neighbors returns the n trained cards closest to the query card, in
// decreasing similarity. The query card itself and cards that never appeared
// in a decklist are excluded. The scan is exact, no approximate index.
func (base *BaseEmbedding) Neighbors(cardId string, n int, similarity Similarity) ([]Neighbor, error) {
	cardIndex, ok := base.CardIndex.Lookup(cardId)
	if !ok {
		return nil, errors.NotFoundf("card %q", cardId)
	}
	query := base.CardFactor[cardIndex]
	queryNorm := floats.Norm(query)
	filter := heap.NewTopKFilter[int32, float32](n)
	for candidate := int32(0); candidate < base.CardIndex.Count(); candidate++ {
		if candidate == cardIndex || !base.CardTrained.Test(uint(candidate)) {
			continue
		}
		var score float32
		switch similarity {
		case Euclidean:
			score = -floats.Euclidean(query, base.CardFactor[candidate])
		default:
			denom := queryNorm * floats.Norm(base.CardFactor[candidate])
			if denom == 0 {
				continue
			}
			score = floats.Dot(query, base.CardFactor[candidate]) / denom
		}
		filter.Push(candidate, score)
	}
	indices, scores := filter.PopAll()
	neighbors := make([]Neighbor, 0, len(indices))
	for i, index := range indices {
		id, _ := base.CardIndex.String(index)
		neighbors = append(neighbors, Neighbor{Id: id, Score: scores[i]})
	}
	return neighbors, nil
}
