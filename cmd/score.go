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
	"github.com/sells-group/thriving-index/internal/match"
	"github.com/sells-group/thriving-index/internal/model"
	"github.com/sells-group/thriving-index/internal/scoring"
	"github.com/sells-group/thriving-index/internal/store"
)

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Score targets against stored peer selections",
	Long: `Aggregates region values, loads the peer selections cached by a
previous 'match' or 'run' with the same matching configuration, scores
every target, and exports the score tables. Fails when no cached
selection matches; run 'match' first.`,
	RunE: runScore,
}

func init() {
	f := scoreCmd.Flags()
	f.StringSlice("targets", nil, "target region keys (overrides config)")
	f.Int("peers", 0, "peer set size of the cached selection (overrides config)")
	f.Bool("table", false, "print the overall index as a console table")
	f.Bool("breakdown", false, "print each target's component breakdown")

	rootCmd.AddCommand(scoreCmd)
}

func runScore(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cfg.Validate(); err != nil {
		return err
	}
	log := zap.L().With(zap.String("command", "score"))

	cat, err := loadCatalog(cfg)
	if err != nil {
		return err
	}
	dir, err := loadDirectory(cfg)
	if err != nil {
		return err
	}

	targets := cfg.Match.Targets
	if flagTargets, _ := cmd.Flags().GetStringSlice("targets"); len(flagTargets) > 0 {
		targets = flagTargets
	}
	if len(targets) == 0 {
		return eris.New("score: no target regions configured")
	}
	peerCount := cfg.Match.PeerCount
	if peers, _ := cmd.Flags().GetInt("peers"); peers > 0 {
		peerCount = peers
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	if st == nil {
		return eris.New("score: a store is required to read cached peer selections")
	}
	defer st.Close()

	fingerprint := store.Fingerprint(match.Variables, targets, peerCount)
	selections, err := st.LatestPeerSelections(ctx, fingerprint)
	if err != nil {
		return err
	}
	if selections == nil {
		return eris.Errorf("score: no cached peer selections for this configuration (fingerprint %s); run 'match' first", fingerprint)
	}

	tables, err := loadObservationTables(cfg, cat.Measures)
	if err != nil {
		return err
	}
	engine := aggregate.New(dir)
	aggResults, err := engine.AggregateAll(ctx, tables, cat.Measures, cfg.Match.Parallelism)
	if err != nil {
		return err
	}
	values := make(map[string]map[string]float64)
	for _, ar := range aggResults {
		for _, w := range ar.Warnings {
			log.Warn("coverage gap", zap.String("warning", w.String()))
		}
		for _, v := range ar.Values {
			byMeasure, ok := values[v.RegionKey]
			if !ok {
				byMeasure = make(map[string]float64)
				values[v.RegionKey] = byMeasure
			}
			byMeasure[v.MeasureID] = v.Value
		}
	}

	scorer := scoring.New(cat, func(regionKey, measureID string) (float64, bool) {
		v, ok := values[regionKey][measureID]
		return v, ok
	})
	results, err := scorer.ScoreAll(ctx, selections, cfg.Match.Parallelism)
	if err != nil {
		return err
	}

	var measureScores []model.MeasureScore
	var componentScores []model.ComponentScore
	var overallScores []model.OverallScore
	for _, tr := range results {
		measureScores = append(measureScores, tr.MeasureScores...)
		componentScores = append(componentScores, tr.ComponentScores...)
		if tr.Overall != nil {
			overallScores = append(overallScores, *tr.Overall)
		}
		for _, w := range tr.Warnings {
			log.Warn("score warning", zap.String("warning", w.String()))
		}
	}

	if err := os.MkdirAll(cfg.Data.OutputDir, 0o755); err != nil {
		return eris.Wrapf(err, "score: create output dir %s", cfg.Data.OutputDir)
	}
	outputs := []struct {
		name  string
		write func(f *os.File) error
	}{
		{"measure_scores.csv", func(f *os.File) error { return export.WriteMeasureScores(f, measureScores) }},
		{"component_scores.csv", func(f *os.File) error { return export.WriteComponentScores(f, componentScores) }},
		{"overall_scores.csv", func(f *os.File) error { return export.WriteOverallScores(f, overallScores) }},
	}
	for _, spec := range outputs {
		f, err := os.Create(filepath.Join(cfg.Data.OutputDir, spec.name))
		if err != nil {
			return eris.Wrapf(err, "score: create %s", spec.name)
		}
		if err := spec.write(f); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return eris.Wrapf(err, "score: close %s", spec.name)
		}
	}

	if showTable, _ := cmd.Flags().GetBool("table"); showTable {
		names := make(map[string]string)
		for _, reg := range dir.AllRegions("") {
			names[reg.Key] = reg.Name
		}
		export.PrintOverallTable(os.Stdout, names, overallScores)
	}
	if breakdown, _ := cmd.Flags().GetBool("breakdown"); breakdown {
		for _, target := range targets {
			export.PrintComponentTable(os.Stdout, target, componentScores)
		}
	}

	fmt.Printf("Scored %d targets from cached selections -> %s\n",
		len(overallScores), cfg.Data.OutputDir)
	return nil
}
