package main

import (
	"github.com/spf13/cobra"
)

// cfgFile is the --config override shared by every subcommand.
var cfgFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sitegrade",
		Short: "Website quality auditor",
		Long: `sitegrade crawls a site with headless Chrome, audits every page across
several viewports, and turns what it finds into a 0-100 score with a
letter grade.

Run "sitegrade serve" to host the scan API, or "sitegrade scan" to audit
a single site from the command line.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file path (default: sitegrade.yaml in the working directory or XDG config home)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newScanCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}
