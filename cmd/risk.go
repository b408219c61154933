package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var riskJSON bool

var riskCmd = &cobra.Command{
	Use:   "risk <loan-id>",
	Short: "Assess covenant breach and composite risk for a loan",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close()

		a, err := e.Scorer.Assess(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		if riskJSON {
			return json.NewEncoder(os.Stdout).Encode(a)
		}

		fmt.Printf("Risk score %.1f (%s), trend %s\n", a.RiskScore, a.RiskCategory, a.Trend)
		fmt.Printf("Breach probability %.0f%%, confidence %.0f%%\n", a.BreachProbability*100, a.Confidence*100)
		if a.PredictedBreachDate != nil {
			fmt.Printf("Projected breach: %s\n", a.PredictedBreachDate.Format("2006-01-02"))
		}
		for name, f := range a.Factors {
			fmt.Printf("  - %s: %.1f (%s) %s\n", name, f.Score, f.Severity, f.Description)
		}
		for _, r := range a.Recommendations {
			fmt.Println(r)
		}
		return nil
	},
}

func init() {
	riskCmd.Flags().BoolVar(&riskJSON, "json", false, "emit the full assessment as JSON")
	rootCmd.AddCommand(riskCmd)
}
