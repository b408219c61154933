package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var verifyJSON bool

var verifyCmd = &cobra.Command{
	Use:   "verify <loan-id>",
	Short: "Run multi-source KPI verification for a loan",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close()

		v, err := e.Orchestrator.Verify(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		if verifyJSON {
			return json.NewEncoder(os.Stdout).Encode(v)
		}

		fmt.Printf("Verification %s: %s\n", v.ID, v.Status)
		fmt.Printf("Confidence %.1f, risk level %s\n", v.ConfidenceScore, v.RiskLevel)
		fmt.Printf("KPIs: %d total, %d verified, %d breached, avg discrepancy %.1f%%\n",
			v.Findings.TotalKPIs, v.Findings.VerifiedCount, v.Findings.BreachedCount, v.Findings.AvgDiscrepancy)
		for _, r := range v.Results {
			if r.Excluded {
				fmt.Printf("  - %s: excluded (%s)\n", r.KPIName, r.ExcludedReason)
				continue
			}
			flag := ""
			if r.Breached {
				flag = "  BREACH"
			}
			fmt.Printf("  - %s: claimed %.2f, verified %.2f, discrepancy %.1f%%%s\n",
				r.KPIName, r.ClaimedValue, r.VerifiedValue, r.DiscrepancyPct, flag)
		}
		fmt.Println(v.Recommendations)
		return nil
	},
}

func init() {
	verifyCmd.Flags().BoolVar(&verifyJSON, "json", false, "emit the full verification record as JSON")
	rootCmd.AddCommand(verifyCmd)
}
