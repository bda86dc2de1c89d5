package main

import (
	"fmt"
	"log/slog"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	agir "github.com/agircc/agir-learning-sub000"
	"github.com/agircc/agir-learning-sub000/core"
	"github.com/agircc/agir-learning-sub000/embedding"
	openaiembed "github.com/agircc/agir-learning-sub000/embedding/openai"
	"github.com/agircc/agir-learning-sub000/logging"
	"github.com/agircc/agir-learning-sub000/model"
	anthropicmodel "github.com/agircc/agir-learning-sub000/model/anthropic"
	openaimodel "github.com/agircc/agir-learning-sub000/model/openai"
	"github.com/agircc/agir-learning-sub000/scenario"
	"github.com/agircc/agir-learning-sub000/store"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <scenario.yaml>",
		Short: "Run episodes of a scenario end to end",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initConfig(cmd); err != nil {
				return err
			}
			episodes, _ := cmd.Flags().GetInt("episodes")
			multiAssign, _ := cmd.Flags().GetBool("multi-assign")
			poolSize, _ := cmd.Flags().GetInt("pool-size")
			maxTurns, _ := cmd.Flags().GetInt("max-turns")
			return runScenario(cmd, args[0], episodes, multiAssign, poolSize, maxTurns)
		},
	}
	cmd.Flags().Int("episodes", 1, "Number of episodes to run")
	cmd.Flags().Bool("multi-assign", false, "Balance supporting roles over a bounded agent pool")
	cmd.Flags().Int("pool-size", 0, "Multi-assign pool size per role (0 = default)")
	cmd.Flags().Int("max-turns", 0, "Max generated conversation turns (0 = default)")
	return cmd
}

func runScenario(cmd *cobra.Command, path string, episodes int, multiAssign bool, poolSize, maxTurns int) error {
	logger, err := buildLogger(cmd)
	if err != nil {
		return err
	}

	doc, err := scenario.LoadFile(path)
	if err != nil {
		return err
	}

	m, err := buildModel(doc.Learner.Model)
	if err != nil {
		return err
	}
	embedder := buildEmbedder()

	st, err := openStore()
	if err != nil {
		return err
	}

	app := agir.New(m, embedder, func(o *agir.Options) {
		o.Store = st
		o.Logger = logger
		o.MultiAssign = multiAssign
		o.PoolSize = poolSize
		o.MaxTurns = maxTurns
	})

	if doc.Learner.Username != "" {
		if _, err := app.EnsureLearner(cmd.Context(), doc.Learner); err != nil {
			return err
		}
	}

	for i := 0; i < episodes; i++ {
		ep, err := app.RunScenario(cmd.Context(), doc.Scenario)
		if err != nil {
			if ep != nil {
				fmt.Printf("episode %d (%s): %s\n", i+1, ep.ID, ep.Status)
			}
			return err
		}
		fmt.Printf("episode %d (%s): %s\n", i+1, ep.ID, ep.Status)
	}
	return nil
}

func buildLogger(cmd *cobra.Command) (logging.Logger, error) {
	levelName, _ := cmd.Flags().GetString("log-level")
	format, _ := cmd.Flags().GetString("log-format")
	var level slog.Level
	if err := level.UnmarshalText([]byte(levelName)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", levelName)
	}
	return logging.NewDefaultLogger(level, format), nil
}

// buildModel picks the provider from configuration; the scenario's learner
// model hint wins over the configured default model name.
func buildModel(hint string) (model.Model, error) {
	name := viper.GetString("model")
	if hint != "" {
		name = hint
	}
	switch provider := viper.GetString("provider"); provider {
	case "openai":
		return openaimodel.NewModel(func(o *openaimodel.Options) {
			if name != "" {
				o.Model = name
			}
		}), nil
	case "anthropic":
		return anthropicmodel.NewModel(func(o *anthropicmodel.Options) {
			if name != "" {
				o.Model = anthropic.Model(name)
			}
		}), nil
	default:
		return nil, fmt.Errorf("unknown provider %q (want openai or anthropic)", provider)
	}
}

func buildEmbedder() embedding.Embedder {
	return openaiembed.NewEmbedder(func(o *openaiembed.Options) {
		if name := viper.GetString("embedding_model"); name != "" {
			o.Model = name
		}
	})
}

func openStore() (core.Store, error) {
	switch driver := viper.GetString("db.driver"); driver {
	case "sqlite":
		return store.OpenSQLite(viper.GetString("db.dsn"))
	case "postgres":
		return store.OpenPostgres(viper.GetString("db.dsn"))
	case "memory":
		return store.NewInMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown db driver %q (want sqlite, postgres or memory)", driver)
	}
}
