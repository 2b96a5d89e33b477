package main

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// envPrefix is prepended to the upper-cased flag name to find the
// environment variable that overrides a flag default, e.g. ARBUS_MASTERS.
const envPrefix = "ARBUS_"

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "arbus",
	Short: "arbus runs traffic over an arbitrated shared bus.",
	Long: `arbus runs masters and minions against a round-robin arbitrated ` +
		`bus, records every transaction into a SQLite trace, and reports ` +
		`on recorded traces. Flag defaults can be overridden by ARBUS_* ` +
		`environment variables, which may also come from a .env file.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		envFile, _ := cmd.Flags().GetString("env-file")
		if err := loadEnvFile(envFile); err != nil {
			return err
		}

		return applyEnv(cmd.Flags())
	},
}

func init() {
	rootCmd.PersistentFlags().String("env-file", ".env",
		"File to load ARBUS_* variables from, if it exists")
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

// loadEnvFile loads the variables of filename into the environment without
// overriding variables that are already set. A missing file is not an error.
func loadEnvFile(filename string) error {
	if filename == "" {
		return nil
	}

	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return nil
	}

	if err := godotenv.Load(filename); err != nil {
		return errors.Wrapf(err, "loading %s", filename)
	}

	return nil
}

func envName(flagName string) string {
	return envPrefix + strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
}

// applyEnv sets every flag that was not given on the command line from its
// environment variable, if present.
func applyEnv(flags *pflag.FlagSet) error {
	var firstErr error

	flags.VisitAll(func(f *pflag.Flag) {
		if firstErr != nil || f.Changed || f.Name == "env-file" {
			return
		}

		value, ok := os.LookupEnv(envName(f.Name))
		if !ok {
			return
		}

		if err := flags.Set(f.Name, value); err != nil {
			firstErr = errors.Wrap(err, envName(f.Name))
		}
	})

	return firstErr
}
