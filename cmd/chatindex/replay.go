package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newReplayCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "replay <recovery-log>",
		Short: "Re-ingest the events of a recovery log",
		Long: "Re-ingest the events of a recovery log in file order. Messages, documents " +
			"and profiles are not duplicated by a second replay; presence and " +
			"membership history rows are.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := replayLog(cmd.Context(), opts.configPath, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "replayed %d events from %s\n", n, args[0])
			return nil
		},
	}
}

func replayLog(ctx context.Context, configPath, path string) (int, error) {
	a, err := loadApp(configPath)
	if err != nil {
		return 0, err
	}
	defer a.Close()

	if err := a.connectTelegram(ctx); err != nil {
		return 0, err
	}
	if err := a.setupMedia(ctx); err != nil {
		return 0, err
	}
	if err := a.buildPipeline(); err != nil {
		return 0, err
	}

	n, err := a.pipeline.Replay(path)
	a.pipeline.Close()
	if err != nil {
		return n, fmt.Errorf("replay stopped after %d events: %w", n, err)
	}
	if err := a.pipeline.Run(ctx); err != nil {
		return n, err
	}

	if a.mediaQueue != nil && a.cfg.Media.Queue == "memory" {
		if left, _ := a.mediaQueue.Len(ctx); left > 0 {
			a.log.Warn("Media jobs from the replay are not persisted by the memory queue", "jobs", left)
		}
	}
	return n, nil
}
