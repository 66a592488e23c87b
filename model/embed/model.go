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

// Package embed fits one dense vector per card (and one per commander) so that
// a score combining two card vectors predicts how often the pair co-occurs in
// that commander's decklists.
package embed

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/bits-and-blooms/bitset"
	"github.com/chewxy/math32"
	"github.com/juju/errors"
	"go.uber.org/zap"

	"github.com/aaronbanse/open-edhrec-embed/base/encoding"
	"github.com/aaronbanse/open-edhrec-embed/base/log"
	"github.com/aaronbanse/open-edhrec-embed/common/floats"
	"github.com/aaronbanse/open-edhrec-embed/dataset"
	"github.com/aaronbanse/open-edhrec-embed/model"
)

// Model is the interface of embedding models. Exactly one prediction scheme is
// fixed per model instance; schemes are never mixed within a run.
type Model interface {
	model.Model
	// Fit the embeddings on a rate table. Returns a Report describing the
	// terminal state of the run.
	Fit(ctx context.Context, table *dataset.RateTable, config *FitConfig) (*Report, error)
	// Predict the co-occurrence score of two cards under a commander.
	Predict(commander, cardA, cardB string) float32
	// Neighbors returns the closest trained cards to a query card.
	Neighbors(cardId string, n int, similarity Similarity) ([]Neighbor, error)
	// GetCardIndex returns the card dictionary.
	GetCardIndex() *dataset.FreqDict
	// GetCommanderIndex returns the commander dictionary.
	GetCommanderIndex() *dataset.FreqDict
	// Marshal model into byte stream.
	Marshal(w io.Writer) error
	// Unmarshal model from byte stream.
	Unmarshal(r io.Reader) error
}

// BaseEmbedding carries the shared state of both schemes: dictionaries, factor
// matrices, biases and trained flags. Vectors of cards that never appear in a
// decklist stay at their random initialization and are flagged untrained.
type BaseEmbedding struct {
	model.BaseModel
	CardIndex        *dataset.FreqDict
	CommanderIndex   *dataset.FreqDict
	CardTrained      *bitset.BitSet
	CommanderTrained *bitset.BitSet
	// Model parameters
	CardFactor      [][]float32 // v_c
	CardBias        []float32   // b_c
	CommanderFactor [][]float32 // v_m

	// Hyper parameters
	nFactors     int
	nEpochs      int
	negRatio     int
	batchSize    int
	window       int
	patience     int
	lr           float32
	lrDecay      float32
	reg          float32
	tolerance    float32
	maxGrad      float32
	useCommander bool
}

// SetParams sets hyper-parameters shared by both schemes.
func (base *BaseEmbedding) SetParams(params model.Params) {
	base.BaseModel.SetParams(params)
	base.nFactors = base.Params.GetInt(model.NFactors, 64)
	base.nEpochs = base.Params.GetInt(model.NEpochs, 100)
	base.negRatio = base.Params.GetInt(model.NegativeRatio, 5)
	base.batchSize = base.Params.GetInt(model.BatchSize, 128)
	base.window = base.Params.GetInt(model.Window, 100)
	base.patience = base.Params.GetInt(model.Patience, 3)
	base.lr = base.Params.GetFloat32(model.Lr, 0.05)
	base.lrDecay = base.Params.GetFloat32(model.LrDecay, 1.0)
	base.reg = base.Params.GetFloat32(model.Reg, 0.01)
	base.tolerance = base.Params.GetFloat32(model.Tolerance, 1e-3)
	base.maxGrad = base.Params.GetFloat32(model.MaxGradient, 10)
	base.useCommander = base.Params.GetBool(model.UseCommander, true)
}

// validate fails fast on invalid hyper-parameter combinations before any
// training work starts.
func (base *BaseEmbedding) validate() error {
	if base.nFactors <= 0 {
		return errors.NotValidf("embedding dimensionality NFactors = %v", base.nFactors)
	}
	if base.nEpochs < 1 {
		return errors.NotValidf("epoch budget NEpochs = %v", base.nEpochs)
	}
	if base.negRatio < 1 {
		return errors.NotValidf("negative sampling ratio NegativeRatio = %v", base.negRatio)
	}
	if base.batchSize < 1 {
		return errors.NotValidf("batch size BatchSize = %v", base.batchSize)
	}
	if base.window < 1 {
		return errors.NotValidf("moving-average window Window = %v", base.window)
	}
	if base.patience < 1 {
		return errors.NotValidf("convergence patience Patience = %v", base.patience)
	}
	if base.lr <= 0 {
		return errors.NotValidf("learning rate Lr = %v", base.lr)
	}
	if base.lrDecay <= 0 || base.lrDecay > 1 {
		return errors.NotValidf("learning rate decay LrDecay = %v", base.lrDecay)
	}
	if base.reg < 0 {
		return errors.NotValidf("regularization Reg = %v", base.reg)
	}
	if base.tolerance <= 0 {
		return errors.NotValidf("convergence tolerance Tolerance = %v", base.tolerance)
	}
	if base.maxGrad <= 0 {
		return errors.NotValidf("gradient clip MaxGradient = %v", base.maxGrad)
	}
	return nil
}

// Init allocates and randomly initializes factors for the full card and
// commander universe of the rate table. Components are uniform in
// [-1/sqrt(D), 1/sqrt(D)], biases start at zero.
func (base *BaseEmbedding) Init(table *dataset.RateTable) {
	stats := table.Statistics()
	base.CardIndex = stats.CardDict()
	base.CommanderIndex = stats.CommanderDict()
	nCards := int(base.CardIndex.Count())
	nCommanders := int(base.CommanderIndex.Count())
	bound := 1 / math32.Sqrt(float32(base.nFactors))
	base.CardFactor = base.GetRandomGenerator().UniformMatrix(nCards, base.nFactors, -bound, bound)
	base.CommanderFactor = base.GetRandomGenerator().UniformMatrix(nCommanders, base.nFactors, -bound, bound)
	base.CardBias = make([]float32, nCards)
	// cards absent from every decklist keep their random vectors untouched
	base.CardTrained = bitset.New(uint(nCards))
	for i := int32(0); i < base.CardIndex.Count(); i++ {
		if base.CardIndex.Freq(i) > 0 {
			base.CardTrained.Set(uint(i))
		}
	}
	base.CommanderTrained = bitset.New(uint(nCommanders))
	for m := int32(0); m < stats.CountCommanders(); m++ {
		if stats.Decks(m) > 0 {
			base.CommanderTrained.Set(uint(m))
		}
	}
}

// GetCardIndex returns the card dictionary.
func (base *BaseEmbedding) GetCardIndex() *dataset.FreqDict {
	return base.CardIndex
}

// GetCommanderIndex returns the commander dictionary.
func (base *BaseEmbedding) GetCommanderIndex() *dataset.FreqDict {
	return base.CommanderIndex
}

// GetCardFactor returns the embedding vector of a card.
func (base *BaseEmbedding) GetCardFactor(cardIndex int32) []float32 {
	return base.CardFactor[cardIndex]
}

// GetCardBias returns the scalar bias of a card.
func (base *BaseEmbedding) GetCardBias(cardIndex int32) float32 {
	return base.CardBias[cardIndex]
}

// GetCommanderFactor returns the context vector of a commander.
func (base *BaseEmbedding) GetCommanderFactor(commanderIndex int32) []float32 {
	return base.CommanderFactor[commanderIndex]
}

// IsCardTrained returns false if a card appears in no decklist, so its
// embedding never received a gradient update.
func (base *BaseEmbedding) IsCardTrained(cardIndex int32) bool {
	if cardIndex < 0 || cardIndex >= base.CardIndex.Count() {
		return false
	}
	return base.CardTrained.Test(uint(cardIndex))
}

// Predict returns the raw co-occurrence score of two cards under a commander.
// Unknown identifiers yield zero with a warning.
func (base *BaseEmbedding) Predict(commander, cardA, cardB string) float32 {
	commanderIndex, ok := base.CommanderIndex.Lookup(commander)
	if !ok {
		log.Logger().Warn("unknown commander", zap.String("commander_id", commander))
		return 0
	}
	a, ok := base.CardIndex.Lookup(cardA)
	if !ok {
		log.Logger().Warn("unknown card", zap.String("card_id", cardA))
		return 0
	}
	b, ok := base.CardIndex.Lookup(cardB)
	if !ok {
		log.Logger().Warn("unknown card", zap.String("card_id", cardB))
		return 0
	}
	return base.internalScore(commanderIndex, a, b)
}

func (base *BaseEmbedding) internalScore(commanderIndex, a, b int32) float32 {
	score := floats.Dot(base.CardFactor[a], base.CardFactor[b]) +
		base.CardBias[a] + base.CardBias[b]
	if base.useCommander {
		score += floats.Dot(base.CommanderFactor[commanderIndex], base.CardFactor[a]) +
			floats.Dot(base.CommanderFactor[commanderIndex], base.CardFactor[b])
	}
	return score
}

// Marshal model into byte stream. Only trained entries are persisted.
func (base *BaseEmbedding) Marshal(w io.Writer) error {
	// write params
	if err := encoding.WriteGob(w, base.Params); err != nil {
		return errors.Trace(err)
	}
	// write trained card count
	if err := binary.Write(w, binary.LittleEndian, int64(base.CardTrained.Count())); err != nil {
		return errors.Trace(err)
	}
	// write card factors and biases
	for cardIndex := int32(0); cardIndex < base.CardIndex.Count(); cardIndex++ {
		if base.CardTrained.Test(uint(cardIndex)) {
			cardId, _ := base.CardIndex.String(cardIndex)
			if err := encoding.WriteString(w, cardId); err != nil {
				return errors.Trace(err)
			}
			if err := encoding.WriteVector(w, base.CardFactor[cardIndex]); err != nil {
				return errors.Trace(err)
			}
			if err := binary.Write(w, binary.LittleEndian, base.CardBias[cardIndex]); err != nil {
				return errors.Trace(err)
			}
		}
	}
	// write trained commander count
	if err := binary.Write(w, binary.LittleEndian, int64(base.CommanderTrained.Count())); err != nil {
		return errors.Trace(err)
	}
	// write commander factors
	for commanderIndex := int32(0); commanderIndex < base.CommanderIndex.Count(); commanderIndex++ {
		if base.CommanderTrained.Test(uint(commanderIndex)) {
			commanderId, _ := base.CommanderIndex.String(commanderIndex)
			if err := encoding.WriteString(w, commanderId); err != nil {
				return errors.Trace(err)
			}
			if err := encoding.WriteVector(w, base.CommanderFactor[commanderIndex]); err != nil {
				return errors.Trace(err)
			}
		}
	}
	return nil
}

// Unmarshal model from byte stream.
func (base *BaseEmbedding) Unmarshal(r io.Reader) error {
	// read params
	var params model.Params
	if err := encoding.ReadGob(r, &params); err != nil {
		return errors.Trace(err)
	}
	base.SetParams(params)
	// read card factors and biases
	var cardCount int64
	if err := binary.Read(r, binary.LittleEndian, &cardCount); err != nil {
		return errors.Trace(err)
	}
	base.CardIndex = dataset.NewFreqDict()
	base.CardTrained = bitset.New(uint(cardCount))
	base.CardFactor = make([][]float32, cardCount)
	base.CardBias = make([]float32, cardCount)
	for i := int64(0); i < cardCount; i++ {
		cardId, err := encoding.ReadString(r)
		if err != nil {
			return errors.Trace(err)
		}
		cardIndex := base.CardIndex.NotCount(cardId)
		base.CardTrained.Set(uint(cardIndex))
		base.CardFactor[cardIndex] = make([]float32, base.nFactors)
		if err := encoding.ReadVector(r, base.CardFactor[cardIndex]); err != nil {
			return errors.Trace(err)
		}
		if err := binary.Read(r, binary.LittleEndian, &base.CardBias[cardIndex]); err != nil {
			return errors.Trace(err)
		}
	}
	// read commander factors
	var commanderCount int64
	if err := binary.Read(r, binary.LittleEndian, &commanderCount); err != nil {
		return errors.Trace(err)
	}
	base.CommanderIndex = dataset.NewFreqDict()
	base.CommanderTrained = bitset.New(uint(commanderCount))
	base.CommanderFactor = make([][]float32, commanderCount)
	for i := int64(0); i < commanderCount; i++ {
		commanderId, err := encoding.ReadString(r)
		if err != nil {
			return errors.Trace(err)
		}
		commanderIndex := base.CommanderIndex.NotCount(commanderId)
		base.CommanderTrained.Set(uint(commanderIndex))
		base.CommanderFactor[commanderIndex] = make([]float32, base.nFactors)
		if err := encoding.ReadVector(r, base.CommanderFactor[commanderIndex]); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

func (base *BaseEmbedding) Clear() {
	base.CardIndex = nil
	base.CommanderIndex = nil
	base.CardFactor = nil
	base.CardBias = nil
	base.CommanderFactor = nil
	base.CardTrained = nil
	base.CommanderTrained = nil
}

func (base *BaseEmbedding) Invalid() bool {
	return base == nil ||
		base.CardIndex == nil ||
		base.CommanderIndex == nil ||
		base.CardFactor == nil ||
		base.CommanderFactor == nil
}

// scheme maps an observed rate onto the regression target and computes the
// loss and score gradient of one sample.
type scheme interface {
	name() string
	target(rate float32) float32
	lossGrad(score, target float32) (loss, grad float32)
}

// bilinearScheme regresses the raw score onto log(rate) with squared error.
// Smoothing guarantees the rate is never zero, so the log target is finite.
type bilinearScheme struct{}

func (bilinearScheme) name() string { return "bilinear" }

func (bilinearScheme) target(rate float32) float32 {
	return math32.Log(rate)
}

func (bilinearScheme) lossGrad(score, target float32) (float32, float32) {
	diff := score - target
	return diff * diff, 2 * diff
}

// logisticScheme pushes sigmoid(score) toward the smoothed rate with
// cross-entropy. The loss uses the numerically stable formulation
// max(s,0) - s*t + log(1+exp(-|s|)).
type logisticScheme struct{}

func (logisticScheme) name() string { return "logistic" }

func (logisticScheme) target(rate float32) float32 {
	return rate
}

func (logisticScheme) lossGrad(score, target float32) (float32, float32) {
	loss := math32.Max(score, 0) - score*target + math32.Log1p(math32.Exp(-math32.Abs(score)))
	p := 1 / (1 + math32.Exp(-score))
	return loss, p - target
}

// Bilinear is the GloVe-style model: score is regressed onto the log of the
// smoothed occurrence rate with squared error.
type Bilinear struct {
	BaseEmbedding
}

// NewBilinear creates a Bilinear model.
func NewBilinear(params model.Params) *Bilinear {
	b := new(Bilinear)
	b.SetParams(params)
	return b
}

// Fit the Bilinear model.
func (b *Bilinear) Fit(ctx context.Context, table *dataset.RateTable, config *FitConfig) (*Report, error) {
	return b.fit(ctx, table, config, bilinearScheme{})
}

// Logistic is the word2vec-with-negative-sampling-style model: sigmoid(score)
// approximates the smoothed occurrence rate under cross-entropy.
type Logistic struct {
	BaseEmbedding
}

// NewLogistic creates a Logistic model.
func NewLogistic(params model.Params) *Logistic {
	l := new(Logistic)
	l.SetParams(params)
	return l
}

// Fit the Logistic model.
func (l *Logistic) Fit(ctx context.Context, table *dataset.RateTable, config *FitConfig) (*Report, error) {
	return l.fit(ctx, table, config, logisticScheme{})
}

func GetModelName(m Model) string {
	switch m.(type) {
	case *Bilinear:
		return "bilinear"
	case *Logistic:
		return "logistic"
	default:
		return fmt.Sprintf("%T", m)
	}
}

// NewModel creates an embedding model by scheme name.
func NewModel(name string, params model.Params) (Model, error) {
	switch name {
	case "bilinear":
		return NewBilinear(params), nil
	case "logistic":
		return NewLogistic(params), nil
	}
	return nil, errors.NotValidf("prediction scheme %q", name)
}

// MarshalModel writes a model with its scheme name to a byte stream.
func MarshalModel(w io.Writer, m Model) error {
	if err := encoding.WriteString(w, GetModelName(m)); err != nil {
		return errors.Trace(err)
	}
	if err := m.Marshal(w); err != nil {
		return errors.Trace(err)
	}
	return nil
}

// UnmarshalModel reads a model written by MarshalModel.
func UnmarshalModel(r io.Reader) (Model, error) {
	name, err := encoding.ReadString(r)
	if err != nil {
		return nil, errors.Trace(err)
	}
	switch name {
	case "bilinear":
		var bilinear Bilinear
		if err := bilinear.Unmarshal(r); err != nil {
			return nil, errors.Trace(err)
		}
		return &bilinear, nil
	case "logistic":
		var logistic Logistic
		if err := logistic.Unmarshal(r); err != nil {
			return nil, errors.Trace(err)
		}
		return &logistic, nil
	}
	return nil, errors.NotValidf("model %q", name)
}
