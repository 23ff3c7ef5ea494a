// Package render formats orchestrator run events for the terminal.
package render

import (
	"github.com/charmbracelet/lipgloss"
)

// ANSI colors
const (
	ColorCyan   = lipgloss.Color("12") // Agent header/footer
	ColorYellow = lipgloss.Color("11") // Tool running
	ColorGreen  = lipgloss.Color("10") // Success indicator
	ColorRed    = lipgloss.Color("9")  // Error indicator
	ColorGray   = lipgloss.Color("8")  // Dim/secondary (timing, evidence)
)

// Symbols
const (
	SymbolExec          = "▶" // Exec tool start
	SymbolToolPending   = "○" // Non-exec tool running
	SymbolToolComplete  = "●" // Non-exec tool complete
	SymbolSuccess       = "✓"
	SymbolError         = "✗"
	SymbolSystemMessage = "→"
)

var (
	HeaderStyle        = lipgloss.NewStyle().Foreground(ColorCyan)
	ExecStartStyle     = lipgloss.NewStyle().Foreground(ColorYellow)
	ToolPendingStyle   = lipgloss.NewStyle().Foreground(ColorYellow)
	SuccessStyle       = lipgloss.NewStyle().Foreground(ColorGreen)
	ErrorStyle         = lipgloss.NewStyle().Foreground(ColorRed)
	DimStyle           = lipgloss.NewStyle().Foreground(ColorGray)
	SystemMessageStyle = lipgloss.NewStyle().Foreground(ColorGray)
)
