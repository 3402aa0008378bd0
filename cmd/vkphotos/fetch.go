package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"vkphotos/pkg/models"
	"vkphotos/pkg/photosync"
	"vkphotos/pkg/report"
	"vkphotos/pkg/ui"
)

var (
	// Fetch command flags
	idsFlag     string
	afterFlag   string
	beforeFlag  string
	limitFlag   int
	offsetFlag  int
	pageSize    int
	timeoutFlag time.Duration
	needCovers  bool
	extended    bool
	photoSizes  bool
	allLikes    bool
	useFallback bool
)

var albumsCmd = &cobra.Command{
	Use:   "albums <owner:N|group:N|scope>",
	Short: "Fetch the photo albums of a user or community",
	Long: `Fetch photo albums and upsert them into the local store.

The referrer is "owner:N" or "group:N", or a signed scope where negative
values are communities. --ids and the --after/--before window are mutually
exclusive; window bounds are inclusive and compare the album update time.`,
	Example: `  vkphotos albums group:6492
  vkphotos albums -6492 --after 2024-01-01 --limit 50
  vkphotos albums owner:1 --ids 17071606,16178407 -o albums.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runAlbums,
}

var photosCmd = &cobra.Command{
	Use:   "photos <album-id>",
	Short: "Fetch the photos of a stored album",
	Long: `Fetch photos of one album and upsert them into the local store.

The album id is the composite "<scope>_<id>" form, for example -6492_17071606.
The album must have been fetched before its photos.`,
	Example: `  vkphotos photos -6492_17071606
  vkphotos photos -6492_17071606 --after 2024-01-01 --extended`,
	Args: cobra.ExactArgs(1),
	RunE: runPhotos,
}

var likesCmd = &cobra.Command{
	Use:   "likes <photo-id>",
	Short: "Fetch the users who liked a stored photo",
	Long: `Fetch likers of a photo and union them into the stored like relation.

Without --all only the first page is fetched. Likes are never removed.`,
	Example: `  vkphotos likes 6492_100001227 --all`,
	Args:    cobra.ExactArgs(1),
	RunE:    runLikes,
}

var countersCmd = &cobra.Command{
	Use:   "counters <photo-id>",
	Short: "Refresh a photo's like and comment counters from the web pages",
	Long: `Patch a stored photo's counters using the HTML fallback. The fallback
is enabled for this command regardless of configuration.`,
	Args: cobra.ExactArgs(1),
	RunE: runCounters,
}

func init() {
	rootCmd.AddCommand(albumsCmd, photosCmd, likesCmd, countersCmd)

	for _, cmd := range []*cobra.Command{albumsCmd, photosCmd} {
		cmd.Flags().StringVar(&idsFlag, "ids", "", "comma separated local ids to fetch")
		cmd.Flags().StringVar(&afterFlag, "after", "", "inclusive lower time bound (RFC3339, YYYY-MM-DD or unix seconds)")
		cmd.Flags().StringVar(&beforeFlag, "before", "", "inclusive upper time bound")
		cmd.Flags().IntVar(&limitFlag, "limit", 0, "stop after this many records (0 means all)")
	}
	for _, cmd := range []*cobra.Command{albumsCmd, photosCmd, likesCmd} {
		cmd.Flags().IntVar(&offsetFlag, "offset", 0, "skip this many records of the remote listing")
		cmd.Flags().IntVar(&pageSize, "page-size", 0, "records per request")
		cmd.Flags().DurationVar(&timeoutFlag, "timeout", 0, "abort after this long and keep what was stored")
	}
	albumsCmd.Flags().BoolVar(&needCovers, "covers", false, "request cover thumbnail URLs")
	photosCmd.Flags().BoolVar(&extended, "extended", true, "request likes, comments and tags counters")
	photosCmd.Flags().BoolVar(&photoSizes, "sizes", false, "request the sizes array")
	photosCmd.Flags().BoolVar(&useFallback, "fallback", false, "patch counters from the web pages after fetching")
	likesCmd.Flags().BoolVar(&allLikes, "all", false, "fetch every page of likers")
}

// fetchFlags maps fetch flags onto configuration overrides
func fetchFlags() map[string]interface{} {
	flags := make(map[string]interface{})
	if pageSize > 0 {
		flags["page-size"] = pageSize
	}
	if timeoutFlag > 0 {
		flags["timeout"] = timeoutFlag
	}
	if useFallback {
		flags["fallback"] = true
	}
	return flags
}

func runAlbums(cmd *cobra.Command, args []string) error {
	ref, err := models.ParseReferrer(args[0])
	if err != nil {
		return err
	}
	q := photosync.AlbumQuery{Referrer: ref, Offset: offsetFlag, Limit: limitFlag, NeedCovers: needCovers}
	if q.IDs, err = parseIDs(idsFlag); err != nil {
		return err
	}
	if q.After, q.Before, err = parseWindow(afterFlag, beforeFlag); err != nil {
		return err
	}

	a, err := newApp(cmd.Context(), fetchFlags())
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.engine.FetchAlbums(cmd.Context(), q)
	if res != nil {
		if werr := emit("albums", res, res.Summary); werr != nil {
			return werr
		}
	}
	return err
}

func runPhotos(cmd *cobra.Command, args []string) error {
	q := photosync.PhotoQuery{
		AlbumID:    args[0],
		Offset:     offsetFlag,
		Limit:      limitFlag,
		Extended:   extended,
		PhotoSizes: photoSizes,
	}
	var err error
	if q.IDs, err = parseIDs(idsFlag); err != nil {
		return err
	}
	if q.After, q.Before, err = parseWindow(afterFlag, beforeFlag); err != nil {
		return err
	}

	a, err := newApp(cmd.Context(), fetchFlags())
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.engine.FetchPhotos(cmd.Context(), q)
	if res == nil {
		return err
	}
	if useFallback {
		for _, photo := range res.Photos {
			if _, cerr := a.engine.RefreshCounters(cmd.Context(), photo.RemoteID); cerr != nil {
				ui.PrintWarning("Counters not refreshed for "+photo.RemoteID, cerr)
			}
		}
	}
	if werr := emit("photos", res, res.Summary); werr != nil {
		return werr
	}
	return err
}

func runLikes(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), fetchFlags())
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.engine.FetchLikesFrom(cmd.Context(), args[0], offsetFlag, allLikes)
	if res != nil {
		if werr := emit("likes", res, res.Summary); werr != nil {
			return werr
		}
	}
	return err
}

func runCounters(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), map[string]interface{}{"fallback": true})
	if err != nil {
		return err
	}
	defer a.Close()

	photo, err := a.engine.RefreshCounters(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if outputFile != "" || outputFormat != "" {
		return writeReport("counters", photo)
	}
	ui.PrintInfo("Photo", photo.RemoteID)
	ui.PrintInfo("Likes", strconv.Itoa(photo.Likes))
	ui.PrintInfo("Comments", strconv.Itoa(photo.Comments))
	return nil
}

// emit writes the report when requested, otherwise prints the summary
func emit(command string, result interface{}, summary photosync.Summary) error {
	if outputFile != "" || outputFormat != "" {
		return writeReport(command, result)
	}
	if !quiet {
		ui.PrintSummary(summary)
	}
	return nil
}

// writeReport saves to --output and prints to stdout when --format is set
func writeReport(command string, result interface{}) error {
	r := report.New(version, command, result)
	if outputFile != "" {
		if err := report.Save(outputFile, r); err != nil {
			return err
		}
		if !quiet {
			ui.PrintSuccess("Report written: " + outputFile)
		}
	}
	if outputFormat != "" {
		format, err := report.ParseFormat(outputFormat)
		if err != nil {
			return err
		}
		return report.Write(os.Stdout, format, r)
	}
	return nil
}

// parseIDs parses a comma separated list of local ids
func parseIDs(s string) ([]uint64, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var ids []uint64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseUint(part, 10, 64)
		if err != nil || id == 0 {
			return nil, fmt.Errorf("invalid id %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// parseWindow parses the --after and --before bounds
func parseWindow(after, before string) (time.Time, time.Time, error) {
	a, err := parseTime(after)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("--after: %w", err)
	}
	b, err := parseTime(before)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("--before: %w", err)
	}
	return a, b, nil
}

// parseTime accepts RFC3339, a date or unix seconds. Empty is the zero time.
func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	if sec, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(sec, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}
