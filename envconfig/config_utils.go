// config_utils.go - Utility-Funktionen und Export fuer Konfiguration
//
// Dieses Modul enthaelt:
// - String: String-Getter
// - Uint: Integer-Getter mit Default-Wert
// - EnvVar: Struktur fuer Environment-Variablen-Info
// - AsMap: Gibt alle Konfigurationen in fester Reihenfolge zurueck
// - Lookup: Einzelne EnvVar fuer die Hilfe-Texte der Commands
// - Values: Gibt alle Konfigurationswerte als String-Map zurueck
package envconfig

import (
	"fmt"
	"log/slog"
	"strconv"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// =============================================================================
// String-Getter
// =============================================================================

// String gibt eine Funktion zurueck, die einen String liest
func String(s string) func() string {
	return func() string {
		return Var(s)
	}
}

// =============================================================================
// Integer-Getter
// =============================================================================

// Uint gibt eine Funktion zurueck, die einen uint mit Default-Wert liest
func Uint(key string, defaultValue uint) func() uint {
	return func() uint {
		if s := Var(key); s != "" {
			if n, err := strconv.ParseUint(s, 10, 64); err != nil {
				slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			} else {
				return uint(n)
			}
		}
		return defaultValue
	}
}

// =============================================================================
// Export-Strukturen und -Funktionen
// =============================================================================

// EnvVar repraesentiert eine Environment-Variable mit Metadaten
type EnvVar struct {
	Name        string
	Value       any
	Description string
}

// AsMap gibt alle Konfigurationen in Dokumentationsreihenfolge zurueck
func AsMap() *orderedmap.OrderedMap[string, EnvVar] {
	ret := orderedmap.New[string, EnvVar]()
	for _, v := range []EnvVar{
		{"FLOWSAMPLE_DEBUG", LogLevel(), "Show additional debug information (e.g. FLOWSAMPLE_DEBUG=1, 2 for per-step traces)"},
		{"FLOWSAMPLE_CONFIG", ConfigFile(), "Path to the YAML sampling configuration"},
		{"FLOWSAMPLE_MAX_PARALLEL", MaxParallel(), "Maximum number of sampling runs executed in parallel"},
		{"FLOWSAMPLE_METRICS_FILE", MetricsFile(), "Write Prometheus metrics to this file after sampling"},
		{"FLOWSAMPLE_ENV_FILE", EnvFile(), "Environment file loaded at startup (default \".env\")"},
	} {
		ret.Set(v.Name, v)
	}
	return ret
}

// Lookup gibt die EnvVar zu name zurueck (leere EnvVar wenn unbekannt)
func Lookup(name string) EnvVar {
	v, _ := AsMap().Get(name)
	return v
}

// Values gibt alle Konfigurationswerte als String-Map zurueck
func Values() map[string]string {
	vals := make(map[string]string)
	for pair := AsMap().Oldest(); pair != nil; pair = pair.Next() {
		vals[pair.Key] = fmt.Sprintf("%v", pair.Value.Value)
	}
	return vals
}
