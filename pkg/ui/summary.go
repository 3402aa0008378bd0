package ui

import (
	"fmt"

	"vkphotos/pkg/photosync"
)

// PrintSummary prints one operation summary and its skipped records.
func PrintSummary(s photosync.Summary) {
	mark := Green("✓")
	if s.Error != "" {
		mark = Red("✗")
	}
	fmt.Fprintf(Output, "%s %s %s: %d stored, %d received, %d pages, stop=%s (%s)\n",
		mark,
		s.Operation,
		Cyan(s.Scope),
		s.Stored,
		s.Received,
		s.Pages,
		s.Stop,
		formatDuration(s.Duration()),
	)
	for _, skipped := range s.Skipped {
		fmt.Fprintf(Output, "  %s skipped %s\n", Yellow("!"), skipped.Error())
	}
	if s.Error != "" {
		fmt.Fprintf(Output, "  %s %s\n", Red("error:"), s.Error)
	}
}

// PrintScopeResult prints the totals of a scope sync and each failed album.
func PrintScopeResult(r *photosync.ScopeResult) {
	if r == nil {
		return
	}
	PrintSummary(r.Albums)
	PrintInfo("Albums", fmt.Sprint(r.Albums.Stored))
	PrintInfo("Photos", fmt.Sprint(r.Photos))
	PrintInfo("Likes", fmt.Sprint(r.Likes))
	for _, s := range r.AlbumSyncs {
		if s.Error != "" {
			PrintError("Album "+s.AlbumID, s.Error)
		}
	}
}
