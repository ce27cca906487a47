package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cory-johannsen/automap/internal/game/session"
	"github.com/cory-johannsen/automap/internal/observability"
	"github.com/cory-johannsen/automap/internal/replay"
	"github.com/cory-johannsen/automap/internal/storage"
	"github.com/cory-johannsen/automap/internal/storage/sqlite"
)

func newReplayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay <transcript.yaml>",
		Short: "Rebuild a story's map from a recorded transcript",
		Long: `replay feeds each event of a YAML transcript through a story session and
prints the resulting map. By default nothing is persisted; --persist saves the
map to the configured store.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			story, _ := cmd.Flags().GetString("story")
			persist, _ := cmd.Flags().GetBool("persist")
			asJSON, _ := cmd.Flags().GetBool("json")

			tr, err := replay.Load(args[0])
			if err != nil {
				return err
			}
			if story == "" {
				story = tr.Story
			}
			if story == "" {
				return fmt.Errorf("transcript names no story; pass --story")
			}

			ctx := cmd.Context()
			var store storage.Store
			if persist {
				s, closeStore, err := openStore(ctx, cfg, logger)
				if err != nil {
					return err
				}
				defer closeStore()
				store = s
			} else {
				s, err := sqlite.Open(":memory:")
				if err != nil {
					return err
				}
				defer s.Close()
				store = s
			}

			filter, exempt, err := openFilter(cfg.Map, logger)
			if err != nil {
				return err
			}
			if filter != nil {
				defer filter.Close()
			}

			sessions := session.NewManager(store, session.Config{
				MapOptions:   session.MapOptions(cfg.Map, exempt),
				SaveDebounce: time.Hour,
				StoreTimeout: cfg.Storage.Timeout,
			}, logger, observability.NewMetrics(prometheus.NewRegistry()), nil)

			s, err := sessions.Open(ctx, story)
			if err != nil {
				return err
			}
			sum, err := replay.Apply(tr, s)
			if err != nil {
				return err
			}
			if persist {
				if err := sessions.Close(ctx); err != nil {
					return err
				}
			}
			logger.Info("transcript replayed",
				zap.String("story", story),
				zap.Int("events", sum.Events),
				zap.Int("moves", sum.Moves),
				zap.Int("paths", sum.Paths),
				zap.Int("rooms_created", sum.RoomsCreated),
			)

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(s.Snapshot())
			}
			_, err = fmt.Fprintln(out, s.Encoded())
			return err
		},
	}
	cmd.Flags().String("story", "", "story name (defaults to the transcript's)")
	cmd.Flags().Bool("persist", false, "save the resulting map to the configured store")
	cmd.Flags().Bool("json", false, "print the map as a JSON snapshot")
	return cmd
}
