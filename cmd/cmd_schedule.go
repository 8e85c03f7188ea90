// cmd_schedule.go - schedule, config und env Commands
// Hauptfunktionen: ScheduleHandler, ConfigHandler, EnvHandler
package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ollama/flowsample/envconfig"
	"github.com/ollama/flowsample/predictor"
	"github.com/ollama/flowsample/sampler"
)

// ScheduleHandler - Gibt das geshiftete Zeitgitter mit alpha/sigma aus
func ScheduleHandler(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	baseSize, _ := cmd.Flags().GetInt("base-size")

	s, err := sampler.New(referenceModel(predictor.Decay{Rate: 1}, baseSize), cfg)
	if err != nil {
		return err
	}

	sc := s.Scaling()
	t0, t1 := s.Interval()
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "mode %s, resolution %s, interval [%g, %g]\n", s.Mode(), sc.Resolution, t0, t1)
	fmt.Fprintf(w, "shift %g, ntk factor %g, attention scale %.4f, tokens %d (base %d)\n\n",
		sc.Shift, sc.NTKFactor, sc.AttentionScale, sc.Tokens, sc.BaseTokens)

	tr := s.Transport()
	grid := s.Grid()
	var data [][]string
	for i, t := range grid {
		dt := "-"
		if i < len(grid)-1 {
			dt = strconv.FormatFloat(grid[i+1]-t, 'f', 6, 64)
		}
		c := tr.Coefficients(t)
		data = append(data, []string{
			strconv.Itoa(i),
			strconv.FormatFloat(t, 'f', 6, 64),
			dt,
			strconv.FormatFloat(c.Alpha, 'f', 6, 64),
			strconv.FormatFloat(c.Sigma, 'f', 6, 64),
		})
	}

	table := newTable(w, []string{"STEP", "T", "DT", "ALPHA", "SIGMA"})
	table.AppendBulk(data)
	table.Render()

	if s.Mode() == sampler.ModeSDE {
		fmt.Fprintf(w, "\nfinal %s step of size %g to t=1\n", cfg.SDE.LastStep, cfg.SDE.LastStepSize)
	}
	return nil
}

// ConfigHandler - Gibt die aufgeloeste Konfiguration als YAML aus
func ConfigHandler(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return cfg.Encode(cmd.OutOrStdout())
}

// EnvHandler - Gibt alle Environment-Variablen mit aktuellem Wert aus
func EnvHandler(cmd *cobra.Command, _ []string) error {
	vals := envconfig.Values()
	var data [][]string
	for pair := envconfig.AsMap().Oldest(); pair != nil; pair = pair.Next() {
		data = append(data, []string{pair.Key, vals[pair.Key], pair.Value.Description})
	}

	table := newTable(cmd.OutOrStdout(), []string{"NAME", "VALUE", "DESCRIPTION"})
	table.AppendBulk(data)
	table.Render()
	return nil
}
