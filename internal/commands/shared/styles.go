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

package shared

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/tombee/autoflow/pkg/automation"
)

var (
	StatusOK    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))  // green
	StatusWarn  = lipgloss.NewStyle().Foreground(lipgloss.Color("214")) // orange
	StatusError = lipgloss.NewStyle().Foreground(lipgloss.Color("196")) // red
	StatusInfo  = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))  // blue

	// Muted styles secondary text such as ids and durations.
	Muted = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))

	Bold   = lipgloss.NewStyle().Bold(true)
	Header = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
)

const (
	SymbolOK      = "✓"
	SymbolWarn    = "⚠"
	SymbolError   = "✗"
	SymbolStopped = "■"
	SymbolInfo    = "•"
)

func RenderOK(msg string) string {
	return StatusOK.Render(SymbolOK) + " " + msg
}

func RenderWarn(msg string) string {
	return StatusWarn.Render(SymbolWarn) + " " + msg
}

func RenderError(msg string) string {
	return StatusError.Render(SymbolError) + " " + msg
}

// RenderLabel renders a dim label (for key: value pairs)
func RenderLabel(label string) string {
	return Muted.Render(label)
}

// RenderRunStatus colours a run status word.
func RenderRunStatus(s automation.RunStatus) string {
	switch s {
	case automation.RunSuccess:
		return StatusOK.Render(string(s))
	case automation.RunPartial:
		return StatusWarn.Render(string(s))
	default:
		return StatusError.Render(string(s))
	}
}

// StepSymbol returns the coloured marker for a step outcome.
func StepSymbol(s automation.StepStatus) string {
	switch s {
	case automation.StepSuccess:
		return StatusOK.Render(SymbolOK)
	case automation.StepStopped:
		return StatusWarn.Render(SymbolStopped)
	default:
		return StatusError.Render(SymbolError)
	}
}
