package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/thriving-index/internal/aggregate"
	"github.com/sells-group/thriving-index/internal/export"
	"github.com/sells-group/thriving-index/internal/model"
)

var aggregateCmd = &cobra.Command{
	Use:   "aggregate",
	Short: "Aggregate county observations to region values",
	Long: `Rolls county observations up to region values for every catalog
measure (or a selected subset) and writes the region-value table. Coverage
gaps are logged as warnings; a region with no usable county data yields no
row.`,
	RunE: runAggregate,
}

func init() {
	aggregateCmd.Flags().StringSlice("measures", nil, "measure IDs to aggregate (default: all)")

	rootCmd.AddCommand(aggregateCmd)
}

func runAggregate(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cfg.Validate(); err != nil {
		return err
	}
	log := zap.L().With(zap.String("command", "aggregate"))

	cat, err := loadCatalog(cfg)
	if err != nil {
		return err
	}
	dir, err := loadDirectory(cfg)
	if err != nil {
		return err
	}

	measures := cat.Measures
	if ids, _ := cmd.Flags().GetStringSlice("measures"); len(ids) > 0 {
		measures = measures[:0:0]
		for _, id := range ids {
			m := cat.ByID(id)
			if m == nil {
				return eris.Errorf("aggregate: unknown measure %s", id)
			}
			measures = append(measures, *m)
		}
	}

	tables, err := loadObservationTables(cfg, measures)
	if err != nil {
		return err
	}
	var rows int
	for _, table := range tables {
		rows += len(table.Rows)
	}

	engine := aggregate.New(dir)
	results, err := engine.AggregateAll(ctx, tables, measures, cfg.Match.Parallelism)
	if err != nil {
		return err
	}

	var values []model.RegionValue
	var warnings int
	for _, m := range measures {
		res := results[m.ID]
		values = append(values, res.Values...)
		warnings += len(res.Warnings)
		for _, w := range res.Warnings {
			log.Warn("coverage gap", zap.String("warning", w.String()))
		}
	}

	if err := os.MkdirAll(cfg.Data.OutputDir, 0o755); err != nil {
		return eris.Wrapf(err, "aggregate: create output dir %s", cfg.Data.OutputDir)
	}
	outPath := filepath.Join(cfg.Data.OutputDir, "region_values.csv")
	f, err := os.Create(outPath)
	if err != nil {
		return eris.Wrapf(err, "aggregate: create %s", outPath)
	}
	defer f.Close()
	if err := export.WriteRegionValues(f, values); err != nil {
		return err
	}

	fmt.Printf("Aggregated %d measures over %s county rows into %d region values (%d coverage gaps) -> %s\n",
		len(measures), export.FormatCount(int64(rows)), len(values), warnings, outPath)
	return nil
}

