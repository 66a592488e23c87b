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

// Package config loads and validates the trainer configuration.
package config

import (
	"github.com/juju/errors"
	"github.com/samber/lo"
	"github.com/spf13/viper"

	"github.com/aaronbanse/open-edhrec-embed/model"
	"github.com/aaronbanse/open-edhrec-embed/model/embed"
)

// Config is the configuration of the trainer and the neighbor inspector.
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Train     TrainConfig     `mapstructure:"train"`
	Neighbors NeighborsConfig `mapstructure:"neighbors"`
}

// DatabaseConfig locates the scraped decklist database.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// TrainConfig holds the training hyper-parameters.
type TrainConfig struct {
	Scheme           string  `mapstructure:"scheme"`            // bilinear or logistic
	ModelPath        string  `mapstructure:"model_path"`        // where the fitted model is written
	NFactors         int     `mapstructure:"n_factors"`         // embedding dimensionality
	NEpochs          int     `mapstructure:"n_epochs"`          // epoch budget
	Lr               float64 `mapstructure:"lr"`                // learning rate
	LrDecay          float64 `mapstructure:"lr_decay"`          // learning rate decay per epoch
	Reg              float64 `mapstructure:"reg"`               // regularization strength
	Alpha            float64 `mapstructure:"alpha"`             // Laplace smoothing constant
	NegativeRatio    int     `mapstructure:"negative_ratio"`    // negatives drawn per positive
	WeightedPositive bool    `mapstructure:"weighted_positive"` // frequency-weighted positive sampling
	UseCommander     bool    `mapstructure:"use_commander"`     // commander context vector in the score
	BatchSize        int     `mapstructure:"batch_size"`        // samples per optimization step
	Window           int     `mapstructure:"window"`            // moving-average window in batches
	Tolerance        float64 `mapstructure:"tolerance"`         // relative improvement threshold
	Patience         int     `mapstructure:"patience"`          // flat epoch checks before convergence
	MaxGradient      float64 `mapstructure:"max_gradient"`      // per-sample gradient clip
	RandomState      int     `mapstructure:"random_state"`      // random seed
	Verbose          int     `mapstructure:"verbose"`           // log every n epochs
	Jobs             int     `mapstructure:"jobs"`              // parallelism of the aggregation stage
}

// NeighborsConfig holds the neighbor inspector settings.
type NeighborsConfig struct {
	Similarity string `mapstructure:"similarity"` // cosine or euclidean
	TopK       int    `mapstructure:"top_k"`
}

func setDefault(v *viper.Viper) {
	v.SetDefault("database.path", "decks.db")
	v.SetDefault("train.scheme", "logistic")
	v.SetDefault("train.model_path", "embed.model")
	v.SetDefault("train.n_factors", 64)
	v.SetDefault("train.n_epochs", 100)
	v.SetDefault("train.lr", 0.05)
	v.SetDefault("train.lr_decay", 1.0)
	v.SetDefault("train.reg", 0.01)
	v.SetDefault("train.alpha", 1.0)
	v.SetDefault("train.negative_ratio", 5)
	v.SetDefault("train.weighted_positive", true)
	v.SetDefault("train.use_commander", true)
	v.SetDefault("train.batch_size", 128)
	v.SetDefault("train.window", 100)
	v.SetDefault("train.tolerance", 1e-3)
	v.SetDefault("train.patience", 3)
	v.SetDefault("train.max_gradient", 10.0)
	v.SetDefault("train.random_state", 42)
	v.SetDefault("train.verbose", 10)
	v.SetDefault("train.jobs", 1)
	v.SetDefault("neighbors.similarity", "cosine")
	v.SetDefault("neighbors.top_k", 10)
}

// LoadConfig loads the configuration from a TOML file. An empty path yields
// the defaults.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("toml")
	setDefault(v)
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Trace(err)
		}
	}
	var conf Config
	if err := v.Unmarshal(&conf); err != nil {
		return nil, errors.Trace(err)
	}
	if err := conf.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &conf, nil
}

// Validate rejects settings the trainer would fail on later anyway, so a bad
// config file surfaces before decklists are loaded.
func (conf *Config) Validate() error {
	if !lo.Contains([]string{"bilinear", "logistic"}, conf.Train.Scheme) {
		return errors.NotValidf("train.scheme %q", conf.Train.Scheme)
	}
	if conf.Train.Alpha <= 0 {
		return errors.NotValidf("train.alpha = %v", conf.Train.Alpha)
	}
	if conf.Train.Jobs < 1 {
		return errors.NotValidf("train.jobs = %v", conf.Train.Jobs)
	}
	if !lo.Contains([]string{"cosine", "euclidean"}, conf.Neighbors.Similarity) {
		return errors.NotValidf("neighbors.similarity %q", conf.Neighbors.Similarity)
	}
	if conf.Neighbors.TopK < 1 {
		return errors.NotValidf("neighbors.top_k = %v", conf.Neighbors.TopK)
	}
	return nil
}

// GetParams converts the training section into model hyper-parameters.
func (conf *TrainConfig) GetParams() model.Params {
	return model.Params{
		model.NFactors:      conf.NFactors,
		model.NEpochs:       conf.NEpochs,
		model.Lr:            float32(conf.Lr),
		model.LrDecay:       float32(conf.LrDecay),
		model.Reg:           float32(conf.Reg),
		model.NegativeRatio: conf.NegativeRatio,
		model.BatchSize:     conf.BatchSize,
		model.Window:        conf.Window,
		model.Tolerance:     float32(conf.Tolerance),
		model.Patience:      conf.Patience,
		model.MaxGradient:   float32(conf.MaxGradient),
		model.RandomState:   conf.RandomState,
		model.UseCommander:  conf.UseCommander,
	}
}

// GetFitConfig converts the training section into a fit configuration.
func (conf *TrainConfig) GetFitConfig() *embed.FitConfig {
	return embed.NewFitConfig().SetVerbose(conf.Verbose)
}
