package main

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	bannerDimStyle     = lipgloss.NewStyle().Foreground(colorMuted)
	bannerArrowStyle   = lipgloss.NewStyle().Foreground(colorPrimary).Bold(true)
	bannerTitleStyle   = lipgloss.NewStyle().Foreground(colorText).Bold(true)
	bannerTaglineStyle = lipgloss.NewStyle().Foreground(colorPrimaryDark).Italic(true)
	bannerVersionStyle = lipgloss.NewStyle().Foreground(colorMuted)
)

func renderBanner() string {
	dot := bannerDimStyle.Render("·")
	arrow := bannerArrowStyle.Render("➜")
	title := bannerTitleStyle.Render("OUTBOX")

	lines := []string{
		"   " + dot + " " + dot + " " + dot + " " + arrow,
		"  " + title + "  " + arrow,
		"   " + dot + " " + dot + " " + dot + " " + arrow,
	}
	return strings.Join(lines, "\n")
}

func renderBannerWithTagline() string {
	tagline := bannerTaglineStyle.Render("  writes that wait for the network")
	ver := bannerVersionStyle.Render("  " + version)
	return strings.Join([]string{renderBanner(), tagline, ver}, "\n")
}
