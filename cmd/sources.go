package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Show data provider health and cache statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close()

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "PROVIDER\tRELIABILITY\tCONFIGURED\tLIVE\tFALLBACK\tFAILURES\tLAST ERROR")
		for _, s := range e.Gateway.Status() {
			fmt.Fprintf(w, "%s\t%.0f\t%t\t%d\t%d\t%d\t%s\n",
				s.Provider, s.Reliability, s.Configured, s.LiveCalls, s.FallbackCalls, s.Failures, s.LastError)
		}
		w.Flush()

		cs := e.Gateway.CacheStats()
		fmt.Printf("cache: %d entries, %d hits, %d misses\n", cs.Entries, cs.Hits, cs.Misses)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sourcesCmd)
}
