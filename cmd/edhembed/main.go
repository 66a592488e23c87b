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

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aaronbanse/open-edhrec-embed/base/encoding"
	"github.com/aaronbanse/open-edhrec-embed/base/log"
	"github.com/aaronbanse/open-edhrec-embed/cmd/version"
	"github.com/aaronbanse/open-edhrec-embed/config"
	"github.com/aaronbanse/open-edhrec-embed/dataset"
	"github.com/aaronbanse/open-edhrec-embed/model/embed"
	"github.com/aaronbanse/open-edhrec-embed/store"
)

var rootCommand = &cobra.Command{
	Use:   "edhembed",
	Short: "Train card embeddings from scraped Commander decklists.",
	Run: func(cmd *cobra.Command, args []string) {
		if showVersion, _ := cmd.PersistentFlags().GetBool("version"); showVersion {
			fmt.Println(version.BuildInfo())
			return
		}
		_ = cmd.Help()
	},
}

var initCommand = &cobra.Command{
	Use:   "init",
	Short: "Create the decklist database schema.",
	Run: func(cmd *cobra.Command, args []string) {
		setupLogger(cmd)
		conf := loadConfig(cmd)
		s, err := store.Open(conf.Database.Path)
		if err != nil {
			log.Logger().Fatal("failed to open database", zap.Error(err))
		}
		defer s.Close()
		if err := s.Init(); err != nil {
			log.Logger().Fatal("failed to create schema", zap.Error(err))
		}
		log.Logger().Info("database initialized", zap.String("path", conf.Database.Path))
	},
}

var trainCommand = &cobra.Command{
	Use:   "train",
	Short: "Fit card embeddings on the decklist database.",
	Run: func(cmd *cobra.Command, args []string) {
		setupLogger(cmd)
		conf := loadConfig(cmd)
		s, err := store.Open(conf.Database.Path)
		if err != nil {
			log.Logger().Fatal("failed to open database", zap.Error(err))
		}
		defer s.Close()

		// interrupt stops training at the next step, keeping the fitted model
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt)
		go func() {
			<-sigint
			cancel()
		}()

		d, err := s.Load(ctx)
		if err != nil {
			log.Logger().Fatal("failed to load decklists", zap.Error(err))
		}
		stats := d.Aggregate(conf.Train.Jobs)
		table, err := dataset.NewRateTable(stats, float32(conf.Train.Alpha), conf.Train.WeightedPositive)
		if err != nil {
			log.Logger().Fatal("failed to build rate table", zap.Error(err))
		}
		m, err := embed.NewModel(conf.Train.Scheme, conf.Train.GetParams())
		if err != nil {
			log.Logger().Fatal("failed to create model", zap.Error(err))
		}
		bar := progressbar.Default(int64(conf.Train.NEpochs), "epochs")
		fitConfig := conf.Train.GetFitConfig().SetOnEpoch(func(epoch, nEpochs int, loss float32) {
			_ = bar.Set(epoch)
		})
		report, err := m.Fit(ctx, table, fitConfig)
		if err != nil {
			log.Logger().Fatal("failed to fit model", zap.Error(err))
		}
		_ = bar.Finish()
		log.Logger().Info("training finished",
			zap.String("state", report.State.String()),
			zap.Int("epochs", report.Epochs),
			zap.Int("steps", report.Steps),
			zap.Float32("loss", report.FinalLoss))
		if report.State == embed.Diverged {
			log.Logger().Warn("training diverged, saving weights from the last completed epoch",
				zap.Int("kept_epochs", report.Epochs))
		}
		w, err := os.Create(conf.Train.ModelPath)
		if err != nil {
			log.Logger().Fatal("failed to create model file", zap.Error(err))
		}
		defer w.Close()
		if err := embed.MarshalModel(w, m); err != nil {
			log.Logger().Fatal("failed to save model", zap.Error(err))
		}
		log.Logger().Info("model saved", zap.String("path", conf.Train.ModelPath))
	},
}

var neighborsCommand = &cobra.Command{
	Use:   "neighbors CARD",
	Short: "Show the nearest trained cards to a card in embedding space.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		setupLogger(cmd)
		conf := loadConfig(cmd)
		r, err := os.Open(conf.Train.ModelPath)
		if err != nil {
			log.Logger().Fatal("failed to open model file", zap.Error(err))
		}
		defer r.Close()
		m, err := embed.UnmarshalModel(r)
		if err != nil {
			log.Logger().Fatal("failed to load model", zap.Error(err))
		}
		similarity, err := embed.ParseSimilarity(conf.Neighbors.Similarity)
		if err != nil {
			log.Logger().Fatal("invalid similarity metric", zap.Error(err))
		}
		topK := conf.Neighbors.TopK
		if n, _ := cmd.Flags().GetInt("top-k"); n > 0 {
			topK = n
		}
		neighbors, err := m.Neighbors(args[0], topK, similarity)
		if err != nil {
			log.Logger().Fatal("failed to query neighbors", zap.Error(err))
		}
		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"rank", "card", conf.Neighbors.Similarity})
		for i, neighbor := range neighbors {
			table.Append([]string{strconv.Itoa(i + 1), neighbor.Id, encoding.FormatFloat32(neighbor.Score)})
		}
		table.Render()
	},
}

func setupLogger(cmd *cobra.Command) {
	debug, _ := cmd.Flags().GetBool("debug")
	log.SetLogger(cmd.Flags(), debug)
}

func loadConfig(cmd *cobra.Command) *config.Config {
	configPath, _ := cmd.Flags().GetString("config")
	if configPath != "" {
		log.Logger().Info("load config", zap.String("config", configPath))
	}
	conf, err := config.LoadConfig(configPath)
	if err != nil {
		log.Logger().Fatal("failed to load config", zap.Error(err))
	}
	return conf
}

func init() {
	log.AddFlags(rootCommand.PersistentFlags())
	rootCommand.PersistentFlags().Bool("debug", false, "use debug log mode")
	rootCommand.PersistentFlags().StringP("config", "c", "", "configuration file path")
	rootCommand.PersistentFlags().BoolP("version", "v", false, "edhembed version")
	neighborsCommand.Flags().Int("top-k", 0, "number of neighbors to show (overrides config)")
	rootCommand.AddCommand(initCommand, trainCommand, neighborsCommand)
}

func main() {
	if err := rootCommand.Execute(); err != nil {
		log.Logger().Fatal("failed to execute", zap.Error(err))
	}
}
