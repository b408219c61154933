package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/esglend/verify-cli/internal/model"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load a demo loan book with KPIs and reported measurements",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(cmd.Context()); err != nil {
			return err
		}

		ctx := cmd.Context()
		maturity := time.Date(2031, 3, 31, 0, 0, 0, 0, time.UTC)

		loans := []struct {
			loan model.Loan
			kpis []struct {
				kpi     model.KPI
				claimed []float64
			}
		}{
			{
				loan: model.Loan{
					BorrowerName:  "Greenfield Manufacturing",
					Principal:     100_000_000,
					BaseRate:      4.5,
					CurrentMargin: 2.0,
					Status:        model.LoanStatusActive,
					Location:      model.GeoPoint{Latitude: 51.509, Longitude: -0.118},
					Postcode:      "EC1A",
					TickerSymbol:  "GFM",
					MaturityDate:  &maturity,
				},
				kpis: []struct {
					kpi     model.KPI
					claimed []float64
				}{
					{
						kpi: model.KPI{
							Name: "Scope 1 Emissions", Category: model.CategoryEnvironmental,
							Unit: "tCO2e", Baseline: 120_000, Target: 84_000, Frequency: "quarterly",
						},
						claimed: []float64{112_000, 106_500, 101_000, 97_500},
					},
					{
						kpi: model.KPI{
							Name: "Renewable Energy Share", Category: model.CategoryEnvironmental,
							Unit: "percent", Baseline: 22, Target: 55, Frequency: "quarterly",
						},
						claimed: []float64{27, 31, 36, 40},
					},
					{
						kpi: model.KPI{
							Name: "Workforce Diversity", Category: model.CategorySocial,
							Unit: "percent", Baseline: 28, Target: 40, Frequency: "annual",
						},
						claimed: []float64{31, 34},
					},
					{
						kpi: model.KPI{
							Name: "Independent Board Share", Category: model.CategoryGovernance,
							Unit: "percent", Baseline: 40, Target: 60, Frequency: "annual",
						},
						claimed: []float64{47, 52},
					},
				},
			},
			{
				loan: model.Loan{
					BorrowerName:  "Northway Logistics",
					Principal:     45_000_000,
					BaseRate:      5.1,
					CurrentMargin: 2.4,
					Status:        model.LoanStatusUnderReview,
					Location:      model.GeoPoint{Latitude: 53.48, Longitude: -2.24},
					Postcode:      "M1",
				},
				kpis: []struct {
					kpi     model.KPI
					claimed []float64
				}{
					{
						kpi: model.KPI{
							Name: "Fleet Emissions Intensity", Category: model.CategoryEnvironmental,
							Unit: "gCO2/km", Baseline: 820, Target: 600, Frequency: "quarterly",
						},
						claimed: []float64{790, 775, 768},
					},
				},
			},
		}

		for _, entry := range loans {
			loan, err := st.CreateLoan(ctx, entry.loan)
			if err != nil {
				return err
			}
			for _, k := range entry.kpis {
				k.kpi.LoanID = loan.ID
				kpi, err := st.CreateKPI(ctx, k.kpi)
				if err != nil {
					return err
				}
				for i, claimed := range k.claimed {
					period := time.Date(2025, time.Month(3*(i+1)), 28, 0, 0, 0, 0, time.UTC)
					if _, err := st.AddMeasurement(ctx, model.Measurement{
						KPIID:        kpi.ID,
						Period:       period,
						ClaimedValue: claimed,
					}); err != nil {
						return err
					}
				}
			}
			fmt.Printf("seeded %s (%s)\n", loan.BorrowerName, loan.ID)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(seedCmd)
}
