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

	"github.com/sells-group/thriving-index/internal/export"
	"github.com/sells-group/thriving-index/internal/index"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full pipeline: aggregate, match, score, export",
	Long: `Runs every stage of the index computation:

 1. Aggregate county observations to region values per measure.
 2. Standardize the matching variables and select peer regions by
    Mahalanobis distance (cached selections are reused when the matching
    configuration is unchanged).
 3. Score every target against its peers and roll the scores into
    component and overall indices.
 4. Export the output tables as CSV into the configured output directory.

Examples:
  # Full run with targets from config
  run

  # Score two specific regions with 10 peers each
  run --targets 31_3,31_4 --peers 10

  # Recompute peer selections even when a cached set matches
  run --no-cache`,
	RunE: runPipeline,
}

func init() {
	f := runCmd.Flags()
	f.StringSlice("targets", nil, "target region keys (overrides config)")
	f.Int("peers", 0, "peer set size (overrides config)")
	f.Bool("no-cache", false, "ignore cached peer selections")
	f.Bool("table", false, "print the overall index as a console table")

	rootCmd.AddCommand(runCmd)
}

func runPipeline(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cfg.Validate(); err != nil {
		return err
	}
	log := zap.L().With(zap.String("command", "run"))

	cat, err := loadCatalog(cfg)
	if err != nil {
		return err
	}
	dir, err := loadDirectory(cfg)
	if err != nil {
		return err
	}

	in, err := loadInputs(cfg, cat, dir)
	if err != nil {
		return err
	}
	if targets, _ := cmd.Flags().GetStringSlice("targets"); len(targets) > 0 {
		in.Targets = targets
	}
	if peers, _ := cmd.Flags().GetInt("peers"); peers > 0 {
		in.PeerCount = peers
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	if noCache, _ := cmd.Flags().GetBool("no-cache"); noCache {
		// Dropping the store handle disables both cache lookup and
		// persistence for this run.
		if st != nil {
			_ = st.Close()
			st = nil
		}
	}
	if st != nil {
		defer st.Close()
	}

	runner := index.NewRunner(cat, dir, st, cfg.Match.Parallelism)
	res, err := runner.Run(ctx, in)
	if err != nil {
		return err
	}

	if err := exportResult(cfg.Data.OutputDir, res); err != nil {
		return err
	}

	for _, w := range res.Warnings {
		log.Warn("run warning", zap.String("warning", w.String()))
	}
	log.Info("pipeline finished",
		zap.String("run_id", res.RunID),
		zap.Int("scored_targets", len(res.OverallScores)),
		zap.Bool("cache_hit", res.CacheHit))

	if showTable, _ := cmd.Flags().GetBool("table"); showTable {
		names := make(map[string]string)
		for _, reg := range dir.AllRegions("") {
			names[reg.Key] = reg.Name
		}
		export.PrintOverallTable(os.Stdout, names, res.OverallScores)
	}

	fmt.Printf("Exported %d measure scores for %d targets to %s\n",
		len(res.MeasureScores), len(res.OverallScores), cfg.Data.OutputDir)
	return nil
}

// exportResult writes the five output tables into outDir.
func exportResult(outDir string, res *index.Result) error {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return eris.Wrapf(err, "run: create output dir %s", outDir)
	}

	files := []struct {
		name  string
		write func(f *os.File) error
	}{
		{"region_values.csv", func(f *os.File) error { return export.WriteRegionValues(f, res.RegionValues) }},
		{"peer_selections.csv", func(f *os.File) error { return export.WritePeerSelections(f, res.Selections) }},
		{"measure_scores.csv", func(f *os.File) error { return export.WriteMeasureScores(f, res.MeasureScores) }},
		{"component_scores.csv", func(f *os.File) error { return export.WriteComponentScores(f, res.ComponentScores) }},
		{"overall_scores.csv", func(f *os.File) error { return export.WriteOverallScores(f, res.OverallScores) }},
	}
	for _, spec := range files {
		f, err := os.Create(filepath.Join(outDir, spec.name))
		if err != nil {
			return eris.Wrapf(err, "run: create %s", spec.name)
		}
		if err := spec.write(f); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return eris.Wrapf(err, "run: close %s", spec.name)
		}
	}
	return nil
}
