// cmd_sample.go - sample Command
// Hauptfunktionen: SampleHandler
package cmd

import (
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/ollama/flowsample/envconfig"
	"github.com/ollama/flowsample/metrics"
	"github.com/ollama/flowsample/predictor"
	"github.com/ollama/flowsample/sampler"
	"github.com/ollama/flowsample/tensor"
)

// SampleHandler - Fuehrt count Laeufe aus und gibt eine Zusammenfassung aus
func SampleHandler(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	count, _ := cmd.Flags().GetInt("count")
	if count < 1 {
		return fmt.Errorf("--count must be >= 1, got %d", count)
	}
	baseSize, _ := cmd.Flags().GetInt("base-size")
	kind, _ := cmd.Flags().GetString("predictor")
	mean, _ := cmd.Flags().GetFloat64("mean")
	std, _ := cmd.Flags().GetFloat64("std")

	gauss := &predictor.Gaussian{Mean: mean, Std: std}
	var p predictor.Predictor
	switch kind {
	case "gaussian":
		p = gauss
	case "decay":
		p = predictor.Decay{Rate: 1}
	default:
		return fmt.Errorf("unknown predictor %q (want gaussian or decay)", kind)
	}

	reg := prometheus.NewRegistry()
	s, err := sampler.New(referenceModel(p, baseSize), cfg, sampler.WithObserver(metrics.New(reg)))
	if err != nil {
		return err
	}
	gauss.Transport = s.Transport()

	reqs := s.Seeds(count, nil)
	if cfg.ODE.Reverse {
		// Daten-Proben aus der Referenzverteilung
		for i := range reqs {
			x := tensor.NewStream(^reqs[i].Seed).Normal(s.LatentShape()...)
			reqs[i].Latent = x.Scale(std).Add(tensor.Full(mean, x.Shape()...))
		}
	}

	results, err := s.SampleMany(cmd.Context(), reqs)
	if err != nil {
		return err
	}

	var data [][]string
	for _, res := range results {
		m, sd := res.Latent.Stats()
		logp := "-"
		if res.LogDensity != nil {
			logp = strconv.FormatFloat(res.LogDensity[0], 'f', 3, 64)
		}
		data = append(data, []string{
			res.RunID[:8],
			strconv.FormatUint(res.Seed, 10),
			string(res.Mode),
			strconv.Itoa(res.Steps),
			strconv.Itoa(res.NFE),
			strconv.Itoa(res.PredictorCalls),
			strconv.FormatFloat(m, 'f', 4, 64),
			strconv.FormatFloat(sd, 'f', 4, 64),
			logp,
			res.Duration.Round(1e6).String(),
		})
	}

	table := newTable(cmd.OutOrStdout(), []string{"RUN", "SEED", "MODE", "STEPS", "NFE", "CALLS", "MEAN", "STD", "LOGP", "TIME"})
	table.AppendBulk(data)
	table.Render()

	path, _ := cmd.Flags().GetString("metrics-file")
	if path == "" {
		path = envconfig.MetricsFile()
	}
	if path != "" {
		return metrics.WriteTextfile(path, reg)
	}
	return nil
}
