// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package timeline draws a run's steps as duration bars.
package timeline

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/tombee/autoflow/pkg/automation"
)

const (
	// MinWidth is the narrowest table the renderer will draw.
	MinWidth = 60
	// DefaultWidth is used when the terminal size is unknown.
	DefaultWidth = 100
	// DefaultBarWidth is the default width for duration bars.
	DefaultBarWidth = 30

	nameWidth = 24
)

// Row is one step placed on the timeline.
type Row struct {
	Name     string
	Kind     automation.StepID
	Offset   time.Duration
	Duration time.Duration
	Status   automation.StepStatus
	Attempts int
	Level    int
}

// Renderer renders step timelines.
type Renderer struct {
	Width    int
	BarWidth int
}

// NewRenderer sizes a renderer to the terminal behind f, falling back to
// DefaultWidth.
func NewRenderer(f *os.File) *Renderer {
	width := DefaultWidth
	if f != nil {
		if w, _, err := term.GetSize(int(f.Fd())); err == nil && w > 0 {
			width = w
		}
	}
	return NewRendererWidth(width)
}

// NewRendererWidth creates a renderer of a fixed width.
func NewRendererWidth(width int) *Renderer {
	if width < MinWidth {
		width = MinWidth
	}
	bar := width - nameWidth - 24
	if bar > 60 {
		bar = 60
	}
	if bar < 10 {
		bar = 10
	}
	return &Renderer{Width: width, BarWidth: bar}
}

// Rows lays the outcomes of res end to end. Top-level steps run one after
// another; branch children are indented under their branch step and start
// where it started.
func Rows(res *automation.RunResult) []Row {
	rows := make([]Row, 0, len(res.Steps))
	var clock time.Duration
	cursor := map[int]time.Duration{}
	for _, s := range res.Steps {
		level := strings.Count(s.Path, "/branch:")
		start := clock
		if level > 0 {
			start = cursor[level-1]
		}
		rows = append(rows, Row{
			Name:     s.StepID,
			Kind:     s.Kind,
			Offset:   start,
			Duration: s.Duration,
			Status:   s.Status,
			Attempts: s.Attempts,
			Level:    level,
		})
		end := start + s.Duration
		cursor[level] = start
		if level > 0 {
			cursor[level-1] = end
		}
		if end > clock {
			clock = end
		}
	}
	return rows
}

// Render writes the timeline for res to w.
func (r *Renderer) Render(w io.Writer, res *automation.RunResult) error {
	if res == nil || len(res.Steps) == 0 {
		return fmt.Errorf("run has no steps to render")
	}
	rows := Rows(res)

	var total time.Duration
	for _, row := range rows {
		if end := row.Offset + row.Duration; end > total {
			total = end
		}
	}
	if elapsed := res.CompletedAt.Sub(res.StartedAt); elapsed > total {
		total = elapsed
	}

	var sb strings.Builder
	border := strings.Repeat("─", r.Width-2)
	sb.WriteString("┌" + border + "┐\n")
	title := fmt.Sprintf("Run %s (%s)", res.RunID, res.Status)
	sb.WriteString(r.line(fmt.Sprintf("%-*s Total: %s", r.Width-20, truncate(title, r.Width-20), formatDuration(total))))
	sb.WriteString("├" + border + "┤\n")
	for _, row := range rows {
		sb.WriteString(r.line(r.renderRow(row, total)))
	}
	sb.WriteString("└" + border + "┘\n")

	_, err := io.WriteString(w, sb.String())
	return err
}

func (r *Renderer) renderRow(row Row, total time.Duration) string {
	start, length := 0, r.BarWidth
	if total > 0 {
		start = int(float64(row.Offset) / float64(total) * float64(r.BarWidth))
		length = int(float64(row.Duration) / float64(total) * float64(r.BarWidth))
	}
	if start >= r.BarWidth {
		start = r.BarWidth - 1
	}
	if length < 1 {
		length = 1
	}
	if start+length > r.BarWidth {
		length = r.BarWidth - start
	}
	bar := strings.Repeat("░", start) + strings.Repeat("█", length) + strings.Repeat("░", r.BarWidth-start-length)

	indent := strings.Repeat("  ", row.Level)
	if row.Level > 0 {
		indent += "└─ "
	}
	name := truncate(row.Name, nameWidth-len([]rune(indent)))

	retries := ""
	if row.Attempts > 1 {
		retries = fmt.Sprintf("x%d", row.Attempts)
	}
	return fmt.Sprintf("%s%-*s %s %7s %s %s", indent, nameWidth-len([]rune(indent)), name, bar, formatDuration(row.Duration), statusIcon(row.Status), retries)
}

// line pads content into a bordered row.
func (r *Renderer) line(content string) string {
	inner := r.Width - 4
	if n := len([]rune(content)); n < inner {
		content += strings.Repeat(" ", inner-n)
	}
	return "│ " + content + " │\n"
}

func statusIcon(s automation.StepStatus) string {
	switch s {
	case automation.StepSuccess:
		return "✓"
	case automation.StepStopped:
		return "■"
	default:
		return "✗"
	}
}

func truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Millisecond:
		return fmt.Sprintf("%dµs", d.Microseconds())
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%.1fm", d.Minutes())
}
