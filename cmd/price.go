package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	priceJSON      bool
	priceScenarios bool
)

var priceCmd = &cobra.Command{
	Use:   "price <loan-id>",
	Short: "Derive the margin adjustment from verified ESG performance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close()

		if priceScenarios {
			rs, err := e.Engine.SimulateScenarios(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if priceJSON {
				return json.NewEncoder(os.Stdout).Encode(rs)
			}
			for _, r := range rs {
				fmt.Printf("%-10s %+4dbps  rate %.2f%%  %s\n", r.Tier, r.MarginAdjustmentBps, r.ProjectedTotalRate, r.ImpactNote)
			}
			return nil
		}

		r, err := e.Engine.Calculate(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if priceJSON {
			return json.NewEncoder(os.Stdout).Encode(r)
		}

		fmt.Printf("ESG performance %.1f, tier %s\n", r.ESGPerformanceScore, r.Tier)
		fmt.Printf("Margin adjustment %+dbps, projected total rate %.2f%%\n", r.MarginAdjustmentBps, r.ProjectedTotalRate)
		fmt.Println(r.ImpactNote)
		return nil
	},
}

func init() {
	priceCmd.Flags().BoolVar(&priceJSON, "json", false, "emit pricing records as JSON")
	priceCmd.Flags().BoolVar(&priceScenarios, "scenarios", false, "show what-if pricing for every tier")
	rootCmd.AddCommand(priceCmd)
}
