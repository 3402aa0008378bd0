package ui

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"vkphotos/pkg/photosync"
)

// ProgressDisplay renders a one-line progress bar for a scope sync
type ProgressDisplay struct {
	mu        sync.Mutex
	scope     string
	total     int
	done      int
	photos    int
	likes     int
	failures  int
	startTime time.Time
	isDebug   bool
}

// NewProgressDisplay creates a new progress display
func NewProgressDisplay(scope string, debug bool) *ProgressDisplay {
	return &ProgressDisplay{
		scope:     scope,
		startTime: time.Now(),
		isDebug:   debug,
	}
}

// AlbumDone records one finished album. It matches photosync.ScopeQuery.OnAlbum.
func (p *ProgressDisplay) AlbumDone(s photosync.AlbumSync, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.total = total
	p.done++
	p.photos += s.Photos.Stored
	for _, l := range s.Likes {
		p.likes += l.Stored
	}
	if s.Error != "" {
		p.failures++
	}

	if p.isDebug {
		p.printDebugAlbum(s)
		return
	}
	p.printProgress()
}

// printProgress prints the minimal progress line
func (p *ProgressDisplay) printProgress() {
	progress := 0.0
	if p.total > 0 {
		progress = float64(p.done) / float64(p.total)
	}
	barWidth := 20
	filled := int(progress * float64(barWidth))
	bar := strings.Repeat("━", filled) + strings.Repeat("─", barWidth-filled)

	line := fmt.Sprintf("%s [%s] %d/%d albums • %d photos • %d likes • %s",
		Cyan(p.scope),
		bar,
		p.done,
		p.total,
		p.photos,
		p.likes,
		formatDuration(time.Since(p.startTime)),
	)
	if p.failures > 0 {
		line += fmt.Sprintf(" • %s", Red(fmt.Sprintf("%d failed", p.failures)))
	}

	fmt.Fprintf(Output, "\r%s\r%s", strings.Repeat(" ", 100), line)
}

// printDebugAlbum prints one line per album in debug mode
func (p *ProgressDisplay) printDebugAlbum(s photosync.AlbumSync) {
	if s.Error != "" {
		fmt.Fprintf(Output, "%s %s • %s\n", Red("✗"), s.AlbumID, s.Error)
		return
	}
	fmt.Fprintf(Output, "%s %s • %d photos • %d pages • %s\n",
		Green("✓"),
		s.AlbumID,
		s.Photos.Stored,
		s.Photos.Pages,
		Dim(string(s.Photos.Stop)),
	)
}

// Complete prints the final totals
func (p *ProgressDisplay) Complete() {
	p.mu.Lock()
	defer p.mu.Unlock()

	elapsed := time.Since(p.startTime)
	fmt.Fprintf(Output, "\n%s Synchronized %d albums of %s\n", Green("✓"), p.done, p.scope)
	fmt.Fprintf(Output, "  %s %d photos, %d likes in %s\n", Dim("•"), p.photos, p.likes, formatDuration(elapsed))
	if p.failures > 0 {
		fmt.Fprintf(Output, "  %s %d albums failed\n", Dim("•"), p.failures)
	}
}

// formatDuration formats a duration in a human-readable way
func formatDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	}
}
