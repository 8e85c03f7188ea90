// config.go - Prozess-Konfiguration ueber Environment-Variablen
//
// Dieses Modul enthaelt:
// - LogLevel: Gibt Log-Level zurueck (FLOWSAMPLE_DEBUG)
// - ConfigFile: Pfad der YAML-Konfiguration (FLOWSAMPLE_CONFIG)
// - MetricsFile: Ziel fuer den Prometheus-Textfile-Export (FLOWSAMPLE_METRICS_FILE)
// - EnvFile: .env-Datei fuer die CLI (FLOWSAMPLE_ENV_FILE)
// - MaxParallel: Obergrenze paralleler Laeufe (FLOWSAMPLE_MAX_PARALLEL)
//
// Die Sampling-Parameter selbst liegen im Paket config (YAML + FLOWSAMPLE_<SEKTION>_<OPTION>).
// Utility-Funktionen und AsMap/Values: config_utils.go
package envconfig

import (
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// LogLevel gibt das Log-Level zurueck
// Konfigurierbar via FLOWSAMPLE_DEBUG
// Werte: 0/false = INFO (Default), 1/true = DEBUG, 2 = TRACE
func LogLevel() slog.Level {
	level := slog.LevelInfo
	if s := Var("FLOWSAMPLE_DEBUG"); s != "" {
		if b, _ := strconv.ParseBool(s); b {
			level = slog.LevelDebug
		} else if i, _ := strconv.ParseInt(s, 10, 64); i != 0 {
			level = slog.Level(i * -4)
		}
	}

	return level
}

var (
	// ConfigFile ist der Pfad der YAML-Konfiguration (leer = nur Defaults und Environment)
	ConfigFile = String("FLOWSAMPLE_CONFIG")

	// MetricsFile ist das Ziel fuer den Prometheus-Textfile-Export (leer = kein Export)
	MetricsFile = String("FLOWSAMPLE_METRICS_FILE")
)

// EnvFile gibt die .env-Datei zurueck, die die CLI beim Start laedt
// Konfigurierbar via FLOWSAMPLE_ENV_FILE
// Default: .env
func EnvFile() string {
	if s := Var("FLOWSAMPLE_ENV_FILE"); s != "" {
		return s
	}
	return ".env"
}

// MaxParallel gibt die maximale Anzahl gleichzeitiger Laeufe zurueck
// Konfigurierbar via FLOWSAMPLE_MAX_PARALLEL
// Default: GOMAXPROCS
func MaxParallel() uint {
	return Uint("FLOWSAMPLE_MAX_PARALLEL", uint(runtime.GOMAXPROCS(0)))()
}

// Var gibt eine Environment-Variable zurueck
// Entfernt fuehrende/trailing Quotes und Leerzeichen
func Var(key string) string {
	return strings.Trim(strings.TrimSpace(os.Getenv(key)), "\"'")
}
