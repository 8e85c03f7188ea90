// cmd_utils.go - Gemeinsame Hilfsfunktionen der Commands
// Hauptfunktionen: loadConfig, applyFlags, newTable, referenceModel
package cmd

import (
	"io"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/ollama/flowsample/config"
	"github.com/ollama/flowsample/envconfig"
	"github.com/ollama/flowsample/predictor"
	"github.com/ollama/flowsample/sampler"
)

// loadConfig - Datei/Environment laden, Flags anwenden, validieren
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = envconfig.ConfigFile()
	}

	cfg, err := config.Read(path)
	if err != nil {
		return nil, err
	}
	if err := applyFlags(cmd, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyFlags - Ueberschreibt nur explizit gesetzte Flags
func applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	var err error
	set := func(name string, apply func() error) {
		if err == nil && flags.Lookup(name) != nil && flags.Changed(name) {
			err = apply()
		}
	}

	set("resolution", func() (e error) { cfg.Infer.Resolution, e = flags.GetString("resolution"); return })
	set("steps", func() (e error) { cfg.Infer.NumSamplingSteps, e = flags.GetInt("steps"); return })
	set("cfg", func() (e error) { cfg.Infer.CFGScale, e = flags.GetFloat64("cfg"); return })
	set("solver", func() (e error) { cfg.Infer.Solver, e = flags.GetString("solver"); return })
	set("shift", func() (e error) { cfg.Infer.TShift, e = flags.GetInt("shift"); return })
	set("seed", func() (e error) { cfg.Infer.Seed, e = flags.GetUint64("seed"); return })
	set("precision", func() (e error) { cfg.Infer.Precision, e = flags.GetString("precision"); return })
	set("sde", func() (e error) { cfg.SDE.Enabled, e = flags.GetBool("sde"); return })
	set("path", func() (e error) { cfg.Transport.PathType, e = flags.GetString("path"); return })
	set("prediction", func() (e error) { cfg.Transport.Prediction, e = flags.GetString("prediction"); return })
	set("likelihood", func() (e error) { cfg.ODE.Likelihood, e = flags.GetBool("likelihood"); return })
	set("reverse", func() (e error) { cfg.ODE.Reverse, e = flags.GetBool("reverse"); return })
	return err
}

// newTable - Tabellenlayout wie bei list/ps
func newTable(w io.Writer, header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.SetAutoWrapText(false)
	return table
}

// referenceModel - Geometrie der Referenzmodelle (4 Kanaele, 8x Downsampling, Patch 2)
func referenceModel(p predictor.Predictor, baseSize int) sampler.Model {
	return sampler.Model{
		Predictor:        p,
		BaseImageSize:    baseSize,
		LatentChannels:   4,
		DownsampleFactor: 8,
		PatchSize:        2,
	}
}
