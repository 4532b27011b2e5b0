package main

import (
	"time"

	"github.com/spf13/cobra"

	"pi-connector/pkg/connector"
)

func newRootCmd() *cobra.Command {
	var opts connector.Options

	rootCmd := &cobra.Command{
		Use:   "pi-connector",
		Short: "Bridge Modbus tags to an OSIsoft PI Web API server",
		Long: `pi-connector polls Modbus devices and posts their values to PI points,
creating the points on first use.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "config/config.yaml", "path to YAML config")
	rootCmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "override log.level (debug, info, warn, error)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the bridge until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return connector.Run(cmd.Context(), opts)
		},
	}
	runCmd.Flags().StringVar(&opts.Mode, "mode", "", "override bridge.mode (batch, single, live)")
	runCmd.Flags().DurationVar(&opts.Interval, "interval", 0, "override bridge.interval")
	runCmd.Flags().StringVar(&opts.JournalPath, "journal", "", "enable the journal at this sqlite path")
	runCmd.Flags().BoolVar(&opts.NoJournal, "no-journal", false, "disable the journal")
	runCmd.Flags().StringVar(&opts.StatusAddr, "status-addr", "", "enable the status API on this address")
	runCmd.Flags().BoolVar(&opts.NoStatus, "no-status", false, "disable the status API")

	provisionCmd := &cobra.Command{
		Use:   "provision",
		Short: "Resolve or create the PI point of every configured tag and print its WebID",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return connector.Provision(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}

	postCmd := &cobra.Command{
		Use:   "post [tag] [value]",
		Short: "Post one value to one configured tag",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return connector.Post(cmd.Context(), opts, args[0], args[1])
		},
	}

	var eo connector.ExportOptions
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Write journal rows to JSON and/or CSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return connector.Export(cmd.Context(), opts, eo)
		},
	}
	exportCmd.Flags().StringVarP(&eo.Out, "out", "o", "journal.json", "output path (both: .json and .csv are appended)")
	exportCmd.Flags().StringVar(&eo.Format, "format", "json", "json, csv or both")
	exportCmd.Flags().StringVar(&eo.Tag, "tag", "", "only rows of this tag")
	exportCmd.Flags().IntVar(&eo.Limit, "limit", 0, "newest rows only; 0 exports all")
	exportCmd.Flags().StringVar(&opts.JournalPath, "journal", "", "journal path, overriding journal.path")

	var so connector.SimulateOptions
	simulateCmd := &cobra.Command{
		Use:   "simulate",
		Short: "Serve the configured points from a local Modbus TCP slave",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return connector.Simulate(cmd.Context(), opts, so)
		},
	}
	simulateCmd.Flags().StringVar(&so.Addr, "addr", ":1502", "listen address")
	simulateCmd.Flags().DurationVar(&so.Interval, "interval", time.Second, "value update interval")
	simulateCmd.Flags().StringVar(&so.CSV, "csv", "", "replay values from a CSV whose header names the tags")

	rootCmd.AddCommand(runCmd, provisionCmd, postCmd, exportCmd, simulateCmd)
	return rootCmd
}
