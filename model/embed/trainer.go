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
	"context"
	"time"

	"github.com/chewxy/math32"
	"github.com/juju/errors"
	"go.uber.org/zap"

	"github.com/aaronbanse/open-edhrec-embed/base/log"
	"github.com/aaronbanse/open-edhrec-embed/common/floats"
	"github.com/aaronbanse/open-edhrec-embed/dataset"
)

// State is the lifecycle state of a training run.
type State int

const (
	Initialized State = iota
	Training
	Converged // loss plateaued before the epoch budget ran out
	Exhausted // epoch budget spent or run cancelled, model still usable
	Diverged  // loss went non-finite, weights rolled back to the last epoch
)

func (s State) String() string {
	switch s {
	case Initialized:
		return "Initialized"
	case Training:
		return "Training"
	case Converged:
		return "Converged"
	case Exhausted:
		return "Exhausted"
	case Diverged:
		return "Diverged"
	default:
		return "Unknown"
	}
}

// Report describes how a training run ended. Divergence is reported here, not
// as an error: the rolled-back model from the last completed epoch remains
// usable.
type Report struct {
	State          State
	Epochs         int     // completed epochs
	Steps          int     // completed optimization steps
	FirstEpochLoss float32 // moving-average loss after the first epoch
	FinalLoss      float32 // moving-average loss at termination
}

// FitConfig is the configuration for a training run.
type FitConfig struct {
	Verbose int // log every n epochs
	OnEpoch func(epoch, nEpochs int, loss float32)
}

func NewFitConfig() *FitConfig {
	return &FitConfig{Verbose: 10}
}

func (config *FitConfig) SetVerbose(verbose int) *FitConfig {
	config.Verbose = verbose
	return config
}

func (config *FitConfig) SetOnEpoch(fn func(epoch, nEpochs int, loss float32)) *FitConfig {
	config.OnEpoch = fn
	return config
}

// movingAverage smooths batch losses over a fixed window so the convergence
// check does not react to single noisy batches.
type movingAverage struct {
	buf []float32
	n   int
	pos int
	sum float32
}

func newMovingAverage(window int) *movingAverage {
	return &movingAverage{buf: make([]float32, window)}
}

func (a *movingAverage) Add(x float32) {
	if a.n == len(a.buf) {
		a.sum -= a.buf[a.pos]
	} else {
		a.n++
	}
	a.buf[a.pos] = x
	a.sum += x
	a.pos = (a.pos + 1) % len(a.buf)
}

func (a *movingAverage) Value() float32 {
	if a.n == 0 {
		return 0
	}
	return a.sum / float32(a.n)
}

// snapshot is a deep copy of the model weights taken at the end of an epoch,
// the rollback target if a later step diverges.
type snapshot struct {
	cardFactor      [][]float32
	cardBias        []float32
	commanderFactor [][]float32
}

func (base *BaseEmbedding) snapshot() *snapshot {
	s := &snapshot{
		cardFactor:      make([][]float32, len(base.CardFactor)),
		cardBias:        make([]float32, len(base.CardBias)),
		commanderFactor: make([][]float32, len(base.CommanderFactor)),
	}
	for i, factor := range base.CardFactor {
		s.cardFactor[i] = make([]float32, len(factor))
		copy(s.cardFactor[i], factor)
	}
	copy(s.cardBias, base.CardBias)
	for i, factor := range base.CommanderFactor {
		s.commanderFactor[i] = make([]float32, len(factor))
		copy(s.commanderFactor[i], factor)
	}
	return s
}

func (base *BaseEmbedding) restore(s *snapshot) {
	for i, factor := range s.cardFactor {
		copy(base.CardFactor[i], factor)
	}
	copy(base.CardBias, s.cardBias)
	for i, factor := range s.commanderFactor {
		copy(base.CommanderFactor[i], factor)
	}
}

// buffers holds pre-update copies of the touched vectors plus scratch space, so
// a sample's three vector updates all use consistent pre-step values.
type buffers struct {
	a, b, m, temp []float32
}

func newBuffers(nFactors int) *buffers {
	return &buffers{
		a:    make([]float32, nFactors),
		b:    make([]float32, nFactors),
		m:    make([]float32, nFactors),
		temp: make([]float32, nFactors),
	}
}

// fit runs sequential mini-batch SGD. The loop is deliberately single-threaded:
// with a fixed RandomState two runs on the same rate table produce bit-for-bit
// identical weights.
func (base *BaseEmbedding) fit(ctx context.Context, table *dataset.RateTable, config *FitConfig, s scheme) (*Report, error) {
	if config == nil {
		config = NewFitConfig()
	}
	if err := base.validate(); err != nil {
		return nil, errors.Trace(err)
	}
	base.Init(table)
	log.Logger().Info("fit embedding",
		zap.String("scheme", s.name()),
		zap.Int("n_positives", table.CountPositives()),
		zap.Int32("n_cards", base.CardIndex.Count()),
		zap.Int32("n_commanders", base.CommanderIndex.Count()),
		zap.Any("params", base.GetParams()))
	rng := base.GetRandomGenerator()
	report := &Report{State: Training}
	// one epoch visits every distinct positive once in expectation
	stepsPerEpoch := (table.CountPositives() + base.batchSize - 1) / base.batchSize
	avg := newMovingAverage(base.window)
	buf := newBuffers(base.nFactors)
	lr := base.lr
	prevLoss := float32(math32.NaN())
	flatChecks := 0
	// rollback target: initialization until the first epoch completes
	checkpoint := base.snapshot()
	start := time.Now()
	for epoch := 1; epoch <= base.nEpochs; epoch++ {
		for step := 0; step < stepsPerEpoch; step++ {
			select {
			case <-ctx.Done():
				report.State = Exhausted
				report.FinalLoss = avg.Value()
				log.Logger().Warn("training cancelled",
					zap.Int("epoch", epoch), zap.Float32("loss", report.FinalLoss))
				return report, nil
			default:
			}
			var batchLoss float32
			count := 0
			for i := 0; i < base.batchSize; i++ {
				pos := table.SamplePositive(rng)
				batchLoss += base.step(s, pos, lr, buf)
				count++
				for j := 0; j < base.negRatio; j++ {
					if neg, ok := table.SampleNegative(rng, pos.Commander); ok {
						batchLoss += base.step(s, neg, lr, buf)
						count++
					}
				}
			}
			batchLoss /= float32(count)
			if math32.IsNaN(batchLoss) || math32.IsInf(batchLoss, 0) {
				report.State = Diverged
				report.FinalLoss = prevLoss
				base.restore(checkpoint)
				log.Logger().Warn("loss diverged, rolled back to last epoch",
					zap.Int("epoch", epoch), zap.Int("step", step),
					zap.Int("kept_epochs", report.Epochs))
				return report, nil
			}
			avg.Add(batchLoss)
			report.Steps++
		}
		epochLoss := avg.Value()
		if epoch == 1 {
			report.FirstEpochLoss = epochLoss
		}
		report.Epochs = epoch
		checkpoint = base.snapshot()
		if config.Verbose > 0 && (epoch%config.Verbose == 0 || epoch == base.nEpochs) {
			log.Logger().Debug("epoch completed",
				zap.Int("epoch", epoch), zap.Int("n_epochs", base.nEpochs),
				zap.Float32("loss", epochLoss), zap.Float32("lr", lr))
		}
		if config.OnEpoch != nil {
			config.OnEpoch(epoch, base.nEpochs, epochLoss)
		}
		if !math32.IsNaN(prevLoss) {
			improvement := (prevLoss - epochLoss) / math32.Abs(prevLoss)
			if improvement < base.tolerance {
				flatChecks++
			} else {
				flatChecks = 0
			}
			if flatChecks >= base.patience {
				report.State = Converged
				report.FinalLoss = epochLoss
				log.Logger().Info("training converged",
					zap.Int("epoch", epoch), zap.Float32("loss", epochLoss),
					zap.Duration("elapsed", time.Since(start)))
				return report, nil
			}
		}
		prevLoss = epochLoss
		lr *= base.lrDecay
	}
	report.State = Exhausted
	report.FinalLoss = avg.Value()
	log.Logger().Info("epoch budget exhausted",
		zap.Int("n_epochs", base.nEpochs), zap.Float32("loss", report.FinalLoss),
		zap.Duration("elapsed", time.Since(start)))
	return report, nil
}

// step applies one sample's clipped gradient to the two card vectors, their
// biases and the commander vector, and returns the sample loss.
func (base *BaseEmbedding) step(s scheme, sample dataset.Sample, lr float32, buf *buffers) float32 {
	score := base.internalScore(sample.Commander, sample.CardA, sample.CardB)
	loss, grad := s.lossGrad(score, s.target(sample.Rate))
	if grad > base.maxGrad {
		grad = base.maxGrad
	} else if grad < -base.maxGrad {
		grad = -base.maxGrad
	}
	vecA := base.CardFactor[sample.CardA]
	vecB := base.CardFactor[sample.CardB]
	copy(buf.a, vecA)
	copy(buf.b, vecB)
	if base.useCommander {
		vecM := base.CommanderFactor[sample.Commander]
		copy(buf.m, vecM)
		// v_a -= lr * (grad * (v_b + v_m) + reg * v_a)
		floats.MulConstTo(buf.b, grad, buf.temp)
		floats.MulConstAdd(buf.m, grad, buf.temp)
		floats.MulConstAdd(buf.a, base.reg, buf.temp)
		floats.MulConstAdd(buf.temp, -lr, vecA)
		// v_b -= lr * (grad * (v_a + v_m) + reg * v_b)
		floats.MulConstTo(buf.a, grad, buf.temp)
		floats.MulConstAdd(buf.m, grad, buf.temp)
		floats.MulConstAdd(buf.b, base.reg, buf.temp)
		floats.MulConstAdd(buf.temp, -lr, vecB)
		// v_m -= lr * (grad * (v_a + v_b) + reg * v_m)
		floats.AddTo(buf.a, buf.b, buf.temp)
		floats.MulConst(buf.temp, grad)
		floats.MulConstAdd(buf.m, base.reg, buf.temp)
		floats.MulConstAdd(buf.temp, -lr, vecM)
	} else {
		floats.MulConstTo(buf.b, grad, buf.temp)
		floats.MulConstAdd(buf.a, base.reg, buf.temp)
		floats.MulConstAdd(buf.temp, -lr, vecA)
		floats.MulConstTo(buf.a, grad, buf.temp)
		floats.MulConstAdd(buf.b, base.reg, buf.temp)
		floats.MulConstAdd(buf.temp, -lr, vecB)
	}
	base.CardBias[sample.CardA] -= lr * grad
	base.CardBias[sample.CardB] -= lr * grad
	return loss
}
