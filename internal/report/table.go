// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package report

import (
	"strconv"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
)

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 1, 0, 1).Align(lipgloss.Center)
	oddRowStyle = lipgloss.NewStyle().Faint(false).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Faint(true).
			PaddingLeft(1).PaddingRight(1)
	diagonalStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "2", Dark: "10"}).
			Bold(true).
			PaddingLeft(1).PaddingRight(1)
)

// Table returns the confusion matrix as a terminal table: one row per true class, one column per predicted class.
// The diagonal (correct predictions) is highlighted.
func (cm *ConfusionMatrix) Table() *lgtable.Table {
	headers := make([]string, 0, len(cm.Classes)+1)
	headers = append(headers, "true \\ predicted")
	headers = append(headers, cm.Classes...)
	t := lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		Headers(headers...).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			if row < 0 {
				s = headerRowStyle
				return
			}
			switch {
			case col > 0 && row == col-1:
				s = diagonalStyle
			case row%2 == 0:
				s = oddRowStyle
			default:
				s = evenRowStyle
			}
			if col == 0 {
				s = s.Align(lipgloss.Left)
			} else {
				s = s.Align(lipgloss.Right)
			}
			return
		})
	for trueClass, name := range cm.Classes {
		row := make([]string, 0, len(cm.Classes)+1)
		row = append(row, name)
		for _, count := range cm.Counts[trueClass] {
			row = append(row, strconv.Itoa(count))
		}
		t.Row(row...)
	}
	return t
}

// String renders the confusion matrix table.
func (cm *ConfusionMatrix) String() string {
	return cm.Table().Render()
}
