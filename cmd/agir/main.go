package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/agircc/agir-learning-sub000/scenario"
)

var version = "0.1.0-dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "agir",
		Short: "agir - episode execution engine for synthetic learner agents",
		Long: `agir drives synthetic learner agents through scripted multi-role
scenarios: a scenario compiles to a state graph, an episode walks it,
and the learner accumulates distilled, retrievable memories along the
way.`,
	}

	rootCmd.PersistentFlags().String("config", "", "Config file (default: ./agir.yaml if present)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "Log format (text, json)")

	rootCmd.AddCommand(
		newVersionCmd(),
		newValidateCmd(),
		newRunCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// initConfig wires viper: explicit file, else an optional agir.yaml in the
// working directory, with AGIR_* environment overrides throughout.
func initConfig(cmd *cobra.Command) error {
	v := viper.GetViper()
	if file, _ := cmd.Flags().GetString("config"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("agir")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return fmt.Errorf("read config: %w", err)
			}
		}
	}
	v.SetEnvPrefix("AGIR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("provider", "openai")
	v.SetDefault("db.driver", "sqlite")
	v.SetDefault("db.dsn", "agir.db")
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("agir version %s\n", version)
		},
	}
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <scenario.yaml>",
		Short: "Parse and validate a scenario document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := scenario.LoadFile(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("scenario %q is valid: %d states, %d transitions, %d roles\n",
				doc.Scenario.Name, len(doc.Scenario.States), len(doc.Scenario.Transitions), len(doc.Scenario.Roles))
			return nil
		},
	}
}
