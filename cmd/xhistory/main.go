package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var cfgFile string

func main() {
	// A missing .env is fine; real environment variables still apply.
	_ = godotenv.Load()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "xhistory",
		Short:         "Keep a local, searchable history of the posts you view",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")

	root.AddCommand(recordCmd())
	root.AddCommand(listCmd())
	root.AddCommand(showCmd())
	root.AddCommand(searchCmd())
	root.AddCommand(removeCmd())
	root.AddCommand(clearCmd())
	root.AddCommand(importCmd())
	root.AddCommand(exportCmd())
	root.AddCommand(backfillCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(runCmd())

	return root
}

func recordCmd() *cobra.Command {
	var fetchNow bool

	cmd := &cobra.Command{
		Use:   "record <url>",
		Short: "Record a visited post URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecord(cmd.Context(), args[0], fetchNow)
		},
	}

	cmd.Flags().BoolVar(&fetchNow, "fetch", false, "fetch metadata right away")
	return cmd
}

func listCmd() *cobra.Command {
	var (
		page       int
		size       int
		fetchNow   bool
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded posts, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd.Context(), page, size, fetchNow, jsonOutput)
		},
	}

	cmd.Flags().IntVar(&page, "page", 0, "page index (0-based)")
	cmd.Flags().IntVar(&size, "size", 0, "page size (default: from config)")
	cmd.Flags().BoolVar(&fetchNow, "fetch", false, "fetch metadata for uncached posts")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func showCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show <url>",
		Short: "Show a post, fetching it if it is not cached",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(cmd.Context(), args[0], jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func searchCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "search <terms...>",
		Short: "Search cached posts; every term must match",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd.Context(), args, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func removeCmd() *cobra.Command {
	var withCache bool

	cmd := &cobra.Command{
		Use:   "remove <url>...",
		Short: "Remove URLs from the history",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRemove(cmd.Context(), args, withCache)
		},
	}

	cmd.Flags().BoolVar(&withCache, "cache", false, "also delete cached metadata")
	return cmd
}

func clearCmd() *cobra.Command {
	var withCache bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear the recorded history",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClear(cmd.Context(), withCache)
		},
	}

	cmd.Flags().BoolVar(&withCache, "cache", false, "also clear the post cache")
	return cmd
}

func importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Import an exported history file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd.Context(), args[0])
		},
	}
}

func exportCmd() *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the history as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd.Context(), out)
		},
	}

	cmd.Flags().StringVar(&out, "out", "", "output file (default: x-history-export-<date>.json, - for stdout)")
	return cmd
}

func backfillCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backfill",
		Short: "Fetch metadata for recorded posts missing from the cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackfill(cmd.Context())
		},
	}
}

func serveCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}

func runCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start daemon with backfill scheduler and HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}
