package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/thriving-index/internal/match"
	"github.com/sells-group/thriving-index/internal/model"
	"github.com/sells-group/thriving-index/internal/source"
	"github.com/sells-group/thriving-index/internal/store"
)

var matchCmd = &cobra.Command{
	Use:   "match",
	Short: "Compute peer selections and persist them for reuse",
	Long: `Standardizes the candidate-pool matching variables, computes the
Mahalanobis distance from every target to every eligible candidate, and
stores the closest peers per target. Subsequent runs with the same
matching configuration reuse the stored selections.`,
	RunE: runMatch,
}

func init() {
	f := matchCmd.Flags()
	f.StringSlice("targets", nil, "target region keys (overrides config)")
	f.Int("peers", 0, "peer set size (overrides config)")
	f.Bool("print", false, "print each target's peers")

	rootCmd.AddCommand(matchCmd)
}

func runMatch(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cfg.Validate(); err != nil {
		return err
	}
	log := zap.L().With(zap.String("command", "match"))

	dir, err := loadDirectory(cfg)
	if err != nil {
		return err
	}

	targets := cfg.Match.Targets
	if flagTargets, _ := cmd.Flags().GetStringSlice("targets"); len(flagTargets) > 0 {
		targets = flagTargets
	}
	if err := dir.MarkTargetCohort(targets); err != nil {
		return err
	}
	peerCount := cfg.Match.PeerCount
	if peers, _ := cmd.Flags().GetInt("peers"); peers > 0 {
		peerCount = peers
	}

	pool, err := source.LoadMatchingVariables(cfg.Data.MatchingVars)
	if err != nil {
		return err
	}
	if cfg.Data.CentroidsSHP != "" {
		if err := fillAnchorDistances(cfg.Data.CentroidsSHP, dir, pool); err != nil {
			return err
		}
	}

	space, err := match.Standardize(pool)
	if err != nil {
		return err
	}
	matcher := match.NewMatcher(space)

	cohorts := make(map[string][]string, len(targets))
	for _, target := range targets {
		state, _ := model.SplitRegionKey(target)
		for _, other := range targets {
			if other != target {
				if otherState, _ := model.SplitRegionKey(other); otherState == state {
					cohorts[target] = append(cohorts[target], other)
				}
			}
		}
	}

	selections, warnings, err := matcher.SelectAll(ctx, targets, cohorts, peerCount, cfg.Match.Parallelism)
	if err != nil {
		return err
	}
	for _, w := range warnings {
		log.Warn("match warning", zap.String("warning", w.String()))
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	if st != nil {
		defer st.Close()
		fingerprint := store.Fingerprint(match.Variables, targets, peerCount)
		run, err := st.CreateRun(ctx, fingerprint)
		if err != nil {
			return err
		}
		if err := st.SavePeerSelections(ctx, run.ID, fingerprint, selections); err != nil {
			return err
		}
		if err := st.SaveWarnings(ctx, run.ID, warnings); err != nil {
			return err
		}
		if err := st.FinishRun(ctx, run.ID); err != nil {
			return err
		}
		log.Info("peer selections persisted",
			zap.String("run_id", run.ID), zap.String("fingerprint", fingerprint))
	}

	if print, _ := cmd.Flags().GetBool("print"); print {
		for _, target := range targets {
			sel := selections[target]
			fmt.Printf("%s (requested %d%s):\n", target, sel.Requested, underFilledSuffix(sel))
			for _, p := range sel.Peers {
				name := ""
				if reg := dir.Region(p.RegionKey); reg != nil {
					name = reg.Name
				}
				fmt.Printf("  %2d. %-10s %-32s d=%.4f\n", p.Rank, p.RegionKey, name, p.Distance)
			}
		}
	}
	return nil
}

func underFilledSuffix(sel *model.PeerSelection) string {
	if sel.UnderFilled {
		return ", under-filled"
	}
	return ""
}
