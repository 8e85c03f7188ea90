// cmd_builders.go - Command-Builder Funktionen
// Hauptfunktionen: newSampleCmd, newScheduleCmd, newConfigCmd, newEnvCmd
package cmd

import (
	"github.com/spf13/cobra"
)

// registerInferFlags - Flags, die Werte aus Datei und Environment ueberschreiben
func registerInferFlags(cmd *cobra.Command) {
	cmd.Flags().String("resolution", "", "Target resolution WxH (multiples of 16)")
	cmd.Flags().Int("steps", 0, "Number of sampling steps (1-1000)")
	cmd.Flags().Float64("cfg", 0, "Classifier-free guidance scale (1-20)")
	cmd.Flags().String("solver", "", "ODE solver: euler, dopri5 or dopri8")
	cmd.Flags().Int("shift", 0, "Time shift (1-20)")
	cmd.Flags().Uint64("seed", 0, "Random seed")
	cmd.Flags().String("precision", "", "Predictor precision: fp64, fp32, bf16 or fp16")
	cmd.Flags().Bool("sde", false, "Use stochastic sampling")
	cmd.Flags().String("path", "", "Transport path: Linear, GVP or VP")
	cmd.Flags().String("prediction", "", "Network target: velocity, score or noise")
}

// newSampleCmd - Erstellt den sample Command
func newSampleCmd() *cobra.Command {
	sampleCmd := &cobra.Command{
		Use:   "sample",
		Short: "Run the sampler with an analytic reference predictor",
		Args:  cobra.NoArgs,
		RunE:  SampleHandler,
	}

	registerInferFlags(sampleCmd)
	sampleCmd.Flags().Int("count", 1, "Number of independent runs with consecutive seeds")
	sampleCmd.Flags().String("predictor", "gaussian", "Reference predictor: gaussian or decay")
	sampleCmd.Flags().Float64("mean", 0, "Data mean of the gaussian predictor")
	sampleCmd.Flags().Float64("std", 1, "Data standard deviation of the gaussian predictor")
	sampleCmd.Flags().Int("base-size", 1024, "Training resolution of the model")
	sampleCmd.Flags().Bool("likelihood", false, "Compute the log-density (ODE only)")
	sampleCmd.Flags().Bool("reverse", false, "Integrate from data to noise")
	sampleCmd.Flags().String("metrics-file", "", "Write Prometheus metrics to this file (default $FLOWSAMPLE_METRICS_FILE)")

	return sampleCmd
}

// newScheduleCmd - Erstellt den schedule Command
func newScheduleCmd() *cobra.Command {
	scheduleCmd := &cobra.Command{
		Use:   "schedule",
		Short: "Print the shifted time grid and schedule coefficients",
		Args:  cobra.NoArgs,
		RunE:  ScheduleHandler,
	}

	registerInferFlags(scheduleCmd)
	scheduleCmd.Flags().Int("base-size", 1024, "Training resolution of the model")

	return scheduleCmd
}

// newConfigCmd - Erstellt den config Command
func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Print the resolved sampling configuration as YAML",
		Args:  cobra.NoArgs,
		RunE:  ConfigHandler,
	}

	registerInferFlags(configCmd)

	return configCmd
}

// newEnvCmd - Erstellt den env Command
func newEnvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "env",
		Short: "Print the process environment variables",
		Args:  cobra.NoArgs,
		RunE:  EnvHandler,
	}
}
