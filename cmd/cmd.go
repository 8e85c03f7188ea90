// cmd.go - Haupt-CLI Setup und Root Command
// Hauptfunktionen: NewCLI, appendEnvDocs, setup
package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ollama/flowsample/envconfig"
	"github.com/ollama/flowsample/logutil"
)

// appendEnvDocs - Fuegt Umgebungsvariablen-Dokumentation zum Command hinzu
func appendEnvDocs(cmd *cobra.Command, envs []envconfig.EnvVar) {
	if len(envs) == 0 {
		return
	}

	envUsage := `
Environment Variables:
`
	for _, e := range envs {
		envUsage += fmt.Sprintf("      %-24s   %s\n", e.Name, e.Description)
	}

	cmd.SetUsageTemplate(cmd.UsageTemplate() + envUsage)
}

// setup - Laedt die .env-Datei und setzt den Default-Logger
func setup(cmd *cobra.Command, _ []string) error {
	if err := godotenv.Load(envconfig.EnvFile()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", envconfig.EnvFile(), err)
	}
	slog.SetDefault(logutil.NewLogger(cmd.ErrOrStderr(), envconfig.LogLevel()))
	return nil
}

// NewCLI - Erstellt das Haupt-CLI mit allen Commands
func NewCLI() *cobra.Command {
	cobra.EnableCommandSorting = false

	rootCmd := &cobra.Command{
		Use:               "flowsample",
		Short:             "Flow-matching and diffusion sampling engine",
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: setup,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Print(cmd.UsageString())
		},
	}

	rootCmd.PersistentFlags().String("config", "", "YAML sampling configuration (default $FLOWSAMPLE_CONFIG)")
	rootCmd.SetOut(os.Stdout)

	// Commands erstellen
	sampleCmd := newSampleCmd()
	scheduleCmd := newScheduleCmd()
	configCmd := newConfigCmd()
	envCmd := newEnvCmd()

	// Environment-Dokumentation hinzufuegen
	lookup := func(names ...string) []envconfig.EnvVar {
		out := make([]envconfig.EnvVar, 0, len(names))
		for _, n := range names {
			out = append(out, envconfig.Lookup(n))
		}
		return out
	}

	for _, cmd := range []*cobra.Command{sampleCmd, scheduleCmd, configCmd} {
		switch cmd {
		case sampleCmd:
			appendEnvDocs(cmd, lookup(
				"FLOWSAMPLE_DEBUG",
				"FLOWSAMPLE_CONFIG",
				"FLOWSAMPLE_MAX_PARALLEL",
				"FLOWSAMPLE_METRICS_FILE",
				"FLOWSAMPLE_ENV_FILE",
			))
		default:
			appendEnvDocs(cmd, lookup("FLOWSAMPLE_CONFIG", "FLOWSAMPLE_ENV_FILE"))
		}
	}

	rootCmd.AddCommand(
		sampleCmd,
		scheduleCmd,
		configCmd,
		envCmd,
	)

	return rootCmd
}
