package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/thriving-index/internal/export"
	"github.com/sells-group/thriving-index/internal/source"
)

var regionsCmd = &cobra.Command{
	Use:   "regions",
	Short: "Inspect region definitions",
}

var regionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List loaded regions",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := loadDirectory(cfg)
		if err != nil {
			return err
		}
		state, _ := cmd.Flags().GetString("state")
		for _, reg := range dir.AllRegions(state) {
			fmt.Printf("%-10s %-32s %3d counties\n", reg.Key, reg.Name, len(reg.CountyFIPS))
		}
		return nil
	},
}

var regionsCoverageCmd = &cobra.Command{
	Use:   "coverage <observations.csv>",
	Short: "Report how many counties in a table resolve to a region",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := loadDirectory(cfg)
		if err != nil {
			return err
		}

		table, err := source.LoadObservations(args[0], source.ObservationSpec{
			MeasureID: "coverage-check",
			FIPSCol:   "fips",
			Columns:   map[string]string{},
		})
		if err != nil {
			return err
		}

		fipsList := make([]string, 0, len(table.Rows))
		for _, row := range table.Rows {
			fipsList = append(fipsList, row.FIPS)
		}
		cov := dir.CheckCoverage(fipsList)

		export.PrintCoverage(os.Stdout, cov.Resolved, cov.Unresolved)
		if showMissing, _ := cmd.Flags().GetBool("missing"); showMissing {
			for _, fips := range cov.Missing {
				fmt.Println(fips)
			}
		}

		zap.L().Info("coverage check complete",
			zap.String("table", args[0]),
			zap.Int("resolved", cov.Resolved),
			zap.Int("unresolved", cov.Unresolved))

		if cov.Resolved == 0 {
			return eris.New("regions: no county in the table resolves to a region")
		}
		return nil
	},
}

func init() {
	regionsListCmd.Flags().String("state", "", "filter to one 2-digit state FIPS")
	regionsCoverageCmd.Flags().Bool("missing", false, "print unresolved county FIPS codes")

	regionsCmd.AddCommand(regionsListCmd)
	regionsCmd.AddCommand(regionsCoverageCmd)
	rootCmd.AddCommand(regionsCmd)
}
