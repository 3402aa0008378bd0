package main

import (
	"time"

	"github.com/spf13/cobra"

	"vkphotos/pkg/checkpoint"
	"vkphotos/pkg/models"
	"vkphotos/pkg/photosync"
	"vkphotos/pkg/ui"
)

var (
	// Sync command flags
	syncPhotos    bool
	syncLikes     bool
	incremental   bool
	resetSync     bool
	concurrency   int
	showProgress  bool
	syncAfterFlag string
)

var syncCmd = &cobra.Command{
	Use:   "sync <owner:N|group:N|scope>",
	Short: "Synchronize every album, photo and like of a user or community",
	Long: `Fetch all albums of a referrer, then the photos of each album on a worker
pool, and optionally every photo's likers.

With --incremental the start time of the last successful run is read from a
checkpoint and used as the lower time bound, and the checkpoint is advanced
when the run finishes without errors.`,
	Example: `  vkphotos sync group:6492
  vkphotos sync group:6492 --likes --incremental
  vkphotos sync owner:1 --photos=false -o albums.json`,
	Args: cobra.ExactArgs(1),
	RunE: runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)

	syncCmd.Flags().BoolVar(&syncPhotos, "photos", true, "fetch the photos of every album")
	syncCmd.Flags().BoolVar(&syncLikes, "likes", false, "fetch the likers of every photo")
	syncCmd.Flags().BoolVar(&incremental, "incremental", false, "only fetch what changed since the last checkpoint")
	syncCmd.Flags().BoolVar(&resetSync, "reset", false, "delete the checkpoint before syncing")
	syncCmd.Flags().IntVar(&concurrency, "concurrency", 0, "albums synchronized in parallel")
	syncCmd.Flags().BoolVar(&showProgress, "progress", true, "show a progress bar")
	syncCmd.Flags().StringVar(&syncAfterFlag, "after", "", "inclusive lower time bound (overrides the checkpoint)")
	syncCmd.Flags().BoolVar(&useFallback, "fallback", false, "patch photo counters from the web pages")
	syncCmd.Flags().DurationVar(&timeoutFlag, "timeout", 0, "per-operation timeout")
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	ref, err := models.ParseReferrer(args[0])
	if err != nil {
		return err
	}
	after, err := parseTime(syncAfterFlag)
	if err != nil {
		return err
	}

	extra := fetchFlags()
	if concurrency > 0 {
		extra["concurrent"] = concurrency
	}
	a, err := newApp(ctx, extra)
	if err != nil {
		return err
	}
	defer a.Close()

	var cp *checkpoint.Manager
	if incremental || resetSync {
		cp, err = checkpoint.NewManager(ref, a.cfg.Sync.CheckpointDir, a.log)
		if err != nil {
			return err
		}
		if resetSync {
			if err := cp.Delete(); err != nil {
				return err
			}
		}
		if incremental && after.IsZero() {
			if after, err = cp.Since(); err != nil {
				return err
			}
			if !after.IsZero() && !quiet {
				ui.PrintInfo("Incremental since", after.Format(time.RFC3339))
			}
		}
	}

	q := photosync.ScopeQuery{
		Referrer:    ref,
		After:       after,
		WithPhotos:  syncPhotos,
		WithLikes:   syncLikes,
		Concurrency: concurrency,
	}
	var progress *ui.ProgressDisplay
	if showProgress && !quiet {
		progress = ui.NewProgressDisplay(ref.String(), a.cfg.Logging.Level == "debug")
		q.OnAlbum = progress.AlbumDone
	}

	res, syncErr := a.engine.SyncScope(ctx, q)
	if progress != nil {
		progress.Complete()
	}
	if notifications {
		ui.NewNotifier().NotifySync(res, syncErr)
	}
	if res == nil {
		return syncErr
	}

	if syncErr == nil && incremental {
		_, err := cp.RecordRun(checkpoint.Run{
			ID:        res.Albums.RunID,
			StartedAt: res.StartedAt,
			Albums:    res.Albums.Stored,
			Photos:    res.Photos,
			Likes:     res.Likes,
		})
		if err != nil {
			return err
		}
	}

	if outputFile != "" || outputFormat != "" {
		if err := writeReport("sync", res); err != nil {
			return err
		}
	} else if !quiet {
		ui.PrintScopeResult(res)
	}
	return syncErr
}
