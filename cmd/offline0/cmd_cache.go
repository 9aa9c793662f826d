package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"offline0/internal/offline0"
)

var cmdCache = &cobra.Command{
	Use:               "cache",
	Short:             "Inspect or clean cache generations",
	DisableAutoGenTag: true,
}

var cmdCacheLs = &cobra.Command{
	Use:               "ls",
	Short:             "List cache generations",
	DisableAutoGenTag: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCacheLs()
	},
}

var cmdCachePurge = &cobra.Command{
	Use:   "purge",
	Short: "Delete every generation except the configured one",
	Long: `
The "purge" command does what activation does: every cache generation other
than cache.generation is deleted. The proxy must not be running.
`,
	DisableAutoGenTag: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCachePurge(cmd.Context())
	},
}

func init() {
	cmdRoot.AddCommand(cmdCache)
	cmdCache.AddCommand(cmdCacheLs, cmdCachePurge)
}

func openStore() (offline0.Config, *offline0.LevelStore, error) {
	cfg, err := loadConfig()
	if err != nil {
		return offline0.Config{}, nil, err
	}
	store, err := offline0.OpenLevelStore(cfg.Storage.Path, 0)
	if err != nil {
		return offline0.Config{}, nil, err
	}
	return cfg, store, nil
}

func runCacheLs() error {
	cfg, store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "GENERATION\tENTRIES\tBYTES\tCURRENT")
	for _, u := range store.Usage() {
		cur := ""
		if u.Generation == cfg.Cache.Generation {
			cur = "*"
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\n", u.Generation, u.Entries, u.Bytes, cur)
	}
	return tw.Flush()
}

func runCachePurge(ctx context.Context) error {
	cfg, store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	deleted, err := offline0.NewGenerationManager(store, cfg.Cache.Generation).Purge(ctx)
	if err != nil {
		return err
	}
	for _, g := range deleted {
		fmt.Println("deleted", g)
	}
	return nil
}
