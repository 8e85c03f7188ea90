package envconfig

import (
	"log/slog"
	"runtime"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ollama/flowsample/logutil"
)

func TestLogLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":      slog.LevelInfo,
		"false": slog.LevelInfo,
		"0":     slog.LevelInfo,
		"1":     slog.LevelDebug,
		"true":  slog.LevelDebug,
		"2":     logutil.LevelTrace,
		"-1":    slog.LevelWarn,
	}

	for k, v := range cases {
		t.Run(k, func(t *testing.T) {
			t.Setenv("FLOWSAMPLE_DEBUG", k)
			if i := LogLevel(); i != v {
				t.Errorf("%s: erwartet %d, got %d", k, v, i)
			}
		})
	}
}

func TestUint(t *testing.T) {
	cases := map[string]uint{
		"0":    0,
		"1":    1,
		"1337": 1337,
		// default values
		"":       11,
		"-1":     11,
		"0x1337": 11,
	}

	for k, v := range cases {
		t.Run(k, func(t *testing.T) {
			t.Setenv("FLOWSAMPLE_UINT", k)
			if i := Uint("FLOWSAMPLE_UINT", 11)(); i != v {
				t.Errorf("%s: erwartet %d, got %d", k, v, i)
			}
		})
	}
}

func TestMaxParallel(t *testing.T) {
	t.Setenv("FLOWSAMPLE_MAX_PARALLEL", "")
	if got, want := MaxParallel(), uint(runtime.GOMAXPROCS(0)); got != want {
		t.Errorf("MaxParallel Default = %d, erwartet %d", got, want)
	}

	t.Setenv("FLOWSAMPLE_MAX_PARALLEL", "3")
	if got := MaxParallel(); got != 3 {
		t.Errorf("MaxParallel = %d, erwartet 3", got)
	}
}

func TestVar(t *testing.T) {
	cases := map[string]string{
		"value":       "value",
		" value ":     "value",
		" 'value' ":   "value",
		` "value" `:   "value",
		" ' value ' ": " value ",
		` " value " `: " value ",
	}

	for k, v := range cases {
		t.Run(k, func(t *testing.T) {
			t.Setenv("FLOWSAMPLE_VAR", k)
			if s := Var("FLOWSAMPLE_VAR"); s != v {
				t.Errorf("%s: erwartet %q, got %q", k, v, s)
			}
		})
	}
}

func TestEnvFile(t *testing.T) {
	t.Setenv("FLOWSAMPLE_ENV_FILE", "")
	if got := EnvFile(); got != ".env" {
		t.Errorf("EnvFile Default = %q, erwartet .env", got)
	}
	t.Setenv("FLOWSAMPLE_ENV_FILE", "/etc/flowsample.env")
	if got := EnvFile(); got != "/etc/flowsample.env" {
		t.Errorf("EnvFile = %q", got)
	}
}

func TestAsMapOrder(t *testing.T) {
	var names []string
	for pair := AsMap().Oldest(); pair != nil; pair = pair.Next() {
		names = append(names, pair.Key)
	}

	want := []string{
		"FLOWSAMPLE_DEBUG",
		"FLOWSAMPLE_CONFIG",
		"FLOWSAMPLE_MAX_PARALLEL",
		"FLOWSAMPLE_METRICS_FILE",
		"FLOWSAMPLE_ENV_FILE",
	}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("AsMap Reihenfolge (-want +got):\n%s", diff)
	}
}

func TestValues(t *testing.T) {
	t.Setenv("FLOWSAMPLE_METRICS_FILE", "/tmp/metrics.prom")
	vals := Values()
	if vals["FLOWSAMPLE_METRICS_FILE"] != "/tmp/metrics.prom" {
		t.Errorf("Values[FLOWSAMPLE_METRICS_FILE] = %q", vals["FLOWSAMPLE_METRICS_FILE"])
	}
	if Lookup("FLOWSAMPLE_CONFIG").Description == "" {
		t.Error("Lookup sollte Beschreibung liefern")
	}
}
