package main

import (
	"text/template"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

// Help styling, reusing the palette from styles.go
var (
	helpHeaderStyle  = lipgloss.NewStyle().Foreground(colorPrimary).Bold(true)
	helpCmdStyle     = lipgloss.NewStyle().Foreground(colorPrimaryLight)
	helpExampleStyle = lipgloss.NewStyle().Foreground(colorMuted).Italic(true)
)

// styled returns a template func that renders with style only on a TTY, so
// piped help stays plain text.
func styled(style lipgloss.Style) func(string) string {
	return func(s string) string {
		if isTTY() {
			return style.Render(s)
		}
		return s
	}
}

// Template functions for styled help
var helpTemplateFuncs = template.FuncMap{
	"header":  styled(helpHeaderStyle),
	"cmd":     styled(helpCmdStyle),
	"muted":   styled(mutedStyle),
	"example": styled(helpExampleStyle),
	"banner": func() string {
		if isTTY() {
			return renderBannerWithTagline()
		}
		return "outbox " + version
	},
}

// Custom help template: banner on the root command only, then usage,
// aliases, examples, subcommands and flags.
const helpTemplate = `{{if not .HasParent}}{{banner}}

{{end}}{{with .Long}}{{. | trimTrailingWhitespaces}}

{{end}}{{if or .Runnable .HasSubCommands}}{{header "Usage:"}}
  {{cmd .UseLine}}{{if .HasAvailableSubCommands}} {{muted "[command]"}}{{end}}

{{end}}{{if gt (len .Aliases) 0}}{{header "Aliases:"}}
  {{.NameAndAliases}}

{{end}}{{if .HasExample}}{{header "Examples:"}}
{{example .Example}}

{{end}}{{if .HasAvailableSubCommands}}{{header "Commands:"}}
{{range .Commands}}{{if .IsAvailableCommand}}  {{cmd (rpad .Name .NamePadding)}} {{.Short}}
{{end}}{{end}}
{{end}}{{if .HasAvailableLocalFlags}}{{header "Flags:"}}
{{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}

{{end}}{{if .HasAvailableInheritedFlags}}{{header "Global Flags:"}}
{{.InheritedFlags.FlagUsages | trimTrailingWhitespaces}}

{{end}}{{if .HasAvailableSubCommands}}{{muted "Use"}} {{cmd (printf "%s [command] --help" .CommandPath)}} {{muted "for more information."}}
{{end}}`

// initHelp registers the template functions and installs the styled help on
// cmd and every subcommand.
func initHelp(cmd *cobra.Command) {
	for name, fn := range helpTemplateFuncs {
		cobra.AddTemplateFunc(name, fn)
	}

	// Subcommands added after this call keep cobra's default template.
	applyHelpTemplate(cmd)
}

// applyHelpTemplate recursively sets the help template on a command and all subcommands
func applyHelpTemplate(cmd *cobra.Command) {
	cmd.SetHelpTemplate(helpTemplate)
	for _, subCmd := range cmd.Commands() {
		applyHelpTemplate(subCmd)
	}
}
