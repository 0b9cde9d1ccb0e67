package ui

import (
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/driftaudio/lofi-cli/internal/status"
	"github.com/rivo/tview"
)

const (
	// PanelWidth is the interior text width of the player box.
	PanelWidth = 43

	// ProgressWidth is the slash-bar width, excluding the brackets,
	// the timestamps and padding.
	ProgressWidth = PanelWidth - 16
)

func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d.Seconds())
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

// renderActionBar builds the top line: the playback word, the bold track
// title and a right-aligned volume percentage, truncated to fit width.
func renderActionBar(snap status.Snapshot, width int) string {
	word := "playing"
	title := snap.Title
	switch {
	case snap.Loading:
		word = "loading"
		title = ""
	case snap.Paused:
		word = "paused"
	}

	volume := fmt.Sprintf(" Volume: %d%% ", snap.Volume)
	avail := width - utf8.RuneCountInString(volume)

	mainLen := utf8.RuneCountInString(word)
	if title != "" {
		mainLen += 1 + utf8.RuneCountInString(title)
	}

	if title != "" && mainLen > avail {
		keep := avail - utf8.RuneCountInString(word) - 4 // space plus "..."
		if keep < 0 {
			keep = 0
		}
		title = truncateRunes(title, keep) + "..."
		mainLen = avail
	}

	padding := avail - mainLen
	if padding < 0 {
		padding = 0
	}

	var b strings.Builder
	b.WriteString(word)
	if title != "" {
		b.WriteString(" [::b]")
		b.WriteString(tview.Escape(title))
		b.WriteString("[::-]")
	}
	b.WriteString(strings.Repeat(" ", padding))
	b.WriteString(volume)
	return b.String()
}

// renderProgressBar builds the middle line: " [////    ] mm:ss/mm:ss ".
func renderProgressBar(elapsed, duration time.Duration, width int) string {
	filled := 0
	if duration > 0 {
		ratio := elapsed.Seconds() / duration.Seconds()
		if ratio < 0 {
			ratio = 0
		}
		if ratio > 1 {
			ratio = 1
		}
		filled = int(math.Round(ratio * float64(width)))
	}
	if elapsed > duration {
		elapsed = duration
	}

	return fmt.Sprintf(" [%s%s] %s/%s ",
		strings.Repeat("/", filled),
		strings.Repeat(" ", width-filled),
		formatDuration(elapsed),
		formatDuration(duration))
}

// renderHelpBar builds the bottom line. A transient status message takes
// the place of the key hints until it expires.
func renderHelpBar(snap status.Snapshot, keyColor string) string {
	if snap.Message != "" {
		return " " + snap.Message
	}

	return fmt.Sprintf(" %skip    %sause    %suit    volume %s",
		hotkey("[s]", keyColor),
		hotkey("[p]", keyColor),
		hotkey("[q]", keyColor),
		hotkey("[+/-]", keyColor))
}

func hotkey(label, keyColor string) string {
	return fmt.Sprintf("[%s::b]%s[-::-]", keyColor, tview.Escape(label))
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
