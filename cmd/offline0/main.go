package main

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"offline0/internal/offline0"
)

var version = "0.3.0"

var globalOptions struct {
	ConfigPath string
}

var cmdRoot = &cobra.Command{
	Use:   "offline0",
	Short: "Offline caching proxy for the request desk",
	Long: `
offline0 sits between the request desk clients and its origin. Pages and
assets are fetched network-first; the last good copy of every GET response is
kept in a versioned cache generation and served when the origin is unreachable.
`,
	Version:           version,
	SilenceErrors:     true,
	SilenceUsage:      true,
	DisableAutoGenTag: true,
}

func init() {
	f := cmdRoot.PersistentFlags()
	f.StringVar(&globalOptions.ConfigPath, "config", getenvDefault("OFFLINE0_CONFIG", "/offline0.yaml"), "path to offline0.yaml")

	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
}

func loadConfig() (offline0.Config, error) {
	cfg, err := offline0.LoadConfig(globalOptions.ConfigPath)
	if err != nil {
		return offline0.Config{}, err
	}
	log.SetLevel(cfg.LogLevel())
	return cfg, nil
}

func main() {
	if err := cmdRoot.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func getenvDefault(name, def string) string {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	return v
}
