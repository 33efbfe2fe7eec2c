package main

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/david/grant-aggregator/internal/ingest"
	"github.com/david/grant-aggregator/internal/models"
)

var (
	accentColor  = lipgloss.Color("#2DA44E")
	warningColor = lipgloss.Color("#D29922")
	errorColor   = lipgloss.Color("#CF222E")
	dimColor     = lipgloss.Color("#6E7681")
	primaryColor = lipgloss.Color("#0969DA")

	HeaderStyle  = lipgloss.NewStyle().Foreground(primaryColor).Bold(true)
	SuccessStyle = lipgloss.NewStyle().Foreground(accentColor).Bold(true)
	WarningStyle = lipgloss.NewStyle().Foreground(warningColor)
	ErrorStyle   = lipgloss.NewStyle().Foreground(errorColor).Bold(true)
	DimStyle     = lipgloss.NewStyle().Foreground(dimColor)
)

func lifecycleStyle(l models.Lifecycle) lipgloss.Style {
	switch l {
	case models.LifecycleOpen:
		return SuccessStyle
	case models.LifecycleUpcoming:
		return WarningStyle
	case models.LifecycleClosed:
		return DimStyle
	}
	return lipgloss.NewStyle()
}

func healthStyle(s ingest.HealthStatus) lipgloss.Style {
	switch s {
	case ingest.HealthHealthy:
		return SuccessStyle
	case ingest.HealthDegraded:
		return WarningStyle
	case ingest.HealthDown:
		return ErrorStyle
	}
	return DimStyle
}
