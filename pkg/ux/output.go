// Copyright (C) 2025 GridWarden Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux provides rich terminal output styling for the GridWarden CLI.
package ux

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// GridWarden color palette - substation greens, caution amber, fault red
var (
	// Primary palette (brightest to darkest)
	ColorVoltBright  = lipgloss.Color("#7CE38B") // Bright volt green - highlights, success
	ColorVoltPrimary = lipgloss.Color("#3FB950") // Primary green - main brand color
	ColorVoltDeep    = lipgloss.Color("#2E9E44") // Deep green - borders, accents

	// Dark palette (for backgrounds, muted elements)
	ColorConsole  = lipgloss.Color("#1C2128") // Console panel background
	ColorGridline = lipgloss.Color("#444C56") // Gridline - borders, separators
	ColorSlate    = lipgloss.Color("#768390") // Slate - muted text

	// Semantic colors
	ColorSuccess = lipgloss.Color("#3FB950") // Green for success and nominal states
	ColorWarning = lipgloss.Color("#E3B341") // Caution amber for warnings
	ColorError   = lipgloss.Color("#F85149") // Fault red for errors and critical
	ColorInfo    = lipgloss.Color("#539BF5") // Signal blue for informational text
	ColorMuted   = lipgloss.Color("#768390") // Slate for muted text
)

// Styles provides pre-configured lipgloss styles
var Styles = struct {
	// Text styles
	Title     lipgloss.Style
	Subtitle  lipgloss.Style
	Bold      lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Info      lipgloss.Style
	Highlight lipgloss.Style

	// Table styles
	Header lipgloss.Style
	Cell   lipgloss.Style

	// Box styles
	Box        lipgloss.Style
	WarningBox lipgloss.Style
	ErrorBox   lipgloss.Style

	// Status indicators
	StatusOK      lipgloss.Style
	StatusWarning lipgloss.Style
	StatusError   lipgloss.Style
	StatusPending lipgloss.Style
}{
	// Text styles
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorVoltBright),
	Subtitle:  lipgloss.NewStyle().Foreground(ColorVoltPrimary),
	Bold:      lipgloss.NewStyle().Bold(true),
	Muted:     lipgloss.NewStyle().Foreground(ColorSlate),
	Success:   lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Info:      lipgloss.NewStyle().Foreground(ColorInfo),
	Highlight: lipgloss.NewStyle().Foreground(ColorVoltBright).Bold(true),

	// Table styles
	Header: lipgloss.NewStyle().Bold(true).Foreground(ColorVoltPrimary).Padding(0, 1),
	Cell:   lipgloss.NewStyle().Padding(0, 1),

	// Box styles
	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorVoltDeep).
		Padding(0, 1),
	WarningBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorWarning).
		Padding(0, 1),
	ErrorBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorError).
		Padding(0, 1),

	// Status indicators
	StatusOK:      lipgloss.NewStyle().SetString("✓").Foreground(ColorSuccess),
	StatusWarning: lipgloss.NewStyle().SetString("⚠").Foreground(ColorWarning),
	StatusError:   lipgloss.NewStyle().SetString("✗").Foreground(ColorError),
	StatusPending: lipgloss.NewStyle().SetString("○").Foreground(ColorSlate),
}

// Icon provides themed status icons
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconPending Icon = "○"
	IconArrow   Icon = "→"
	IconBullet  Icon = "•"
	IconBolt    Icon = "⚡"
	IconShield  Icon = "▣"
)

// Render returns the icon with appropriate styling
func (i Icon) Render() string {
	switch i {
	case IconSuccess:
		return Styles.Success.Render(string(i))
	case IconWarning:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	case IconPending:
		return Styles.Muted.Render(string(i))
	case IconBolt:
		return Styles.Highlight.Render(string(i))
	default:
		return string(i)
	}
}

// SeverityStyle maps a severity value to its display style. Unknown
// severities render muted rather than erroring; the vocabulary at the
// boundary is extensible.
func SeverityStyle(severity string) lipgloss.Style {
	switch strings.ToLower(severity) {
	case "critical":
		return Styles.Error.Bold(true)
	case "warning":
		return Styles.Warning
	case "info":
		return Styles.Info
	case "normal":
		return Styles.Success
	default:
		return Styles.Muted
	}
}

// SeverityBadge renders a severity as an upper-case styled tag.
func SeverityBadge(severity string) string {
	if GetPersonality().Level == PersonalityMachine {
		return strings.ToUpper(severity)
	}
	return SeverityStyle(severity).Render(strings.ToUpper(severity))
}

// StateStyle maps a rollout state to its display style: terminal success
// is green, terminal failure red, everything in flight amber.
func StateStyle(state string) lipgloss.Style {
	switch strings.ToLower(state) {
	case "succeeded":
		return Styles.Success
	case "failed", "rejected":
		return Styles.Error
	case "pending", "verifying", "applying":
		return Styles.Warning
	default:
		return Styles.Muted
	}
}

// StateBadge renders a rollout state as a styled tag.
func StateBadge(state string) string {
	if GetPersonality().Level == PersonalityMachine {
		return state
	}
	return StateStyle(state).Render(state)
}

// Print helpers that respect personality level

// Title prints a styled title
func Title(text string) {
	if GetPersonality().Level == PersonalityMachine {
		return
	}
	fmt.Println(Styles.Title.Render(text))
}

// Success prints a success message with checkmark
func Success(text string) {
	p := GetPersonality()
	switch p.Level {
	case PersonalityMachine:
		fmt.Fprintf(os.Stdout, "OK: %s\n", text)
	case PersonalityMinimal:
		fmt.Printf("%s %s\n", IconSuccess.Render(), text)
	default:
		fmt.Printf("%s %s\n", IconSuccess.Render(), Styles.Success.Render(text))
	}
}

// Warning prints a warning message
func Warning(text string) {
	p := GetPersonality()
	switch p.Level {
	case PersonalityMachine:
		fmt.Fprintf(os.Stderr, "WARN: %s\n", text)
	case PersonalityMinimal:
		fmt.Printf("%s %s\n", IconWarning.Render(), text)
	default:
		fmt.Printf("%s %s\n", IconWarning.Render(), Styles.Warning.Render(text))
	}
}

// Error prints an error message
func Error(text string) {
	p := GetPersonality()
	switch p.Level {
	case PersonalityMachine:
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", text)
	case PersonalityMinimal:
		fmt.Printf("%s %s\n", IconError.Render(), text)
	default:
		fmt.Printf("%s %s\n", IconError.Render(), Styles.Error.Render(text))
	}
}

// Info prints an informational message
func Info(text string) {
	p := GetPersonality()
	switch p.Level {
	case PersonalityMachine:
		fmt.Println(text)
	default:
		fmt.Printf("%s %s\n", Styles.Muted.Render("│"), text)
	}
}

// Muted prints muted/secondary text
func Muted(text string) {
	if GetPersonality().Level == PersonalityMachine {
		return
	}
	fmt.Println(Styles.Muted.Render(text))
}

// Hint prints a follow-up suggestion when hints are enabled.
func Hint(text string) {
	p := GetPersonality()
	if p.Level == PersonalityMachine || !p.ShowHints {
		return
	}
	fmt.Printf("%s %s\n", Styles.Muted.Render(string(IconArrow)), Styles.Muted.Render(text))
}

// Box prints text in a rounded box
func Box(title, content string) {
	if GetPersonality().Level == PersonalityMachine {
		fmt.Printf("%s: %s\n", title, content)
		return
	}
	boxStyle := Styles.Box.Width(60)
	titleLine := Styles.Title.Render(title)
	fmt.Println(boxStyle.Render(titleLine + "\n" + content))
}

// WarningBox prints text in a warning-styled box
func WarningBox(title, content string) {
	if GetPersonality().Level == PersonalityMachine {
		fmt.Fprintf(os.Stderr, "WARN %s: %s\n", title, content)
		return
	}
	boxStyle := Styles.WarningBox.Width(60)
	titleLine := Styles.Warning.Bold(true).Render(title)
	fmt.Println(boxStyle.Render(titleLine + "\n" + content))
}

// CellStyler lets callers restyle individual body cells. row and col are
// zero-based body coordinates; returning nil keeps the default style.
type CellStyler func(row, col int, value string) *lipgloss.Style

// Table renders headers and rows as a bordered table. In machine
// personality it degrades to tab-separated lines with no border or
// color, one row per line.
func Table(headers []string, rows [][]string, stylize CellStyler) string {
	if GetPersonality().Level == PersonalityMachine {
		var b strings.Builder
		b.WriteString(strings.Join(headers, "\t"))
		for _, row := range rows {
			b.WriteString("\n")
			b.WriteString(strings.Join(row, "\t"))
		}
		return b.String()
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(ColorGridline)).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return Styles.Header
			}
			if stylize != nil && row >= 0 && row < len(rows) && col < len(rows[row]) {
				if s := stylize(row, col, rows[row][col]); s != nil {
					return s.Padding(0, 1)
				}
			}
			return Styles.Cell
		}).
		Headers(headers...).
		Rows(rows...)
	return t.Render()
}

// Summary prints severity counts on one line.
func Summary(critical, warning, info int) {
	p := GetPersonality()
	switch p.Level {
	case PersonalityMachine:
		fmt.Printf("SUMMARY: critical=%d warning=%d info=%d\n", critical, warning, info)
	default:
		fmt.Printf("\n%s %s  %s %s  %s %s\n",
			Styles.Error.Render(fmt.Sprintf("%d", critical)), Styles.Muted.Render("critical"),
			Styles.Warning.Render(fmt.Sprintf("%d", warning)), Styles.Muted.Render("warning"),
			Styles.Info.Render(fmt.Sprintf("%d", info)), Styles.Muted.Render("info"),
		)
	}
}

// ProgressBar renders a simple progress bar
func ProgressBar(current, total int, width int) string {
	if GetPersonality().Level == PersonalityMachine {
		return fmt.Sprintf("%d/%d", current, total)
	}
	pct := float64(current) / float64(total)
	filled := int(pct * float64(width))
	empty := width - filled

	bar := Styles.Success.Render(repeatChar('█', filled)) +
		Styles.Muted.Render(repeatChar('░', empty))

	return fmt.Sprintf("%s %3.0f%%", bar, pct*100)
}

func repeatChar(c rune, n int) string {
	if n <= 0 {
		return ""
	}
	result := make([]rune, n)
	for i := range result {
		result[i] = c
	}
	return string(result)
}
