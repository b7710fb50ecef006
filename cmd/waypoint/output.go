package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/rendis/waypoint/internal/activities"
	"github.com/rendis/waypoint/pkg/schema"
)

var (
	headingStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("69"))
	typeStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF6B6B"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B"))
	okStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#98C379"))
)

// writeCatalog prints descriptors grouped by category, in registry order.
func writeCatalog(w io.Writer, descs []activities.Descriptor) {
	var (
		order  []string
		groups = map[string][]activities.Descriptor{}
	)
	for _, d := range descs {
		cat := d.Category
		if cat == "" {
			cat = "Other"
		}
		if _, ok := groups[cat]; !ok {
			order = append(order, cat)
		}
		groups[cat] = append(groups[cat], d)
	}
	for i, cat := range order {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintln(w, headingStyle.Render(cat))
		for _, d := range groups[cat] {
			line := "  " + typeStyle.Render(d.Type)
			if d.Description != "" {
				line += "  " + d.Description
			}
			fmt.Fprintln(w, line)
			if len(d.Inputs) > 0 {
				names := make([]string, len(d.Inputs))
				for j, in := range d.Inputs {
					names[j] = in.Name
					if in.Required {
						names[j] += "*"
					}
				}
				fmt.Fprintln(w, mutedStyle.Render("    inputs: "+strings.Join(names, ", ")))
			}
			if len(d.Outcomes) > 0 {
				fmt.Fprintln(w, mutedStyle.Render("    outcomes: "+strings.Join(d.Outcomes, ", ")))
			}
		}
	}
}

// writeValidation prints issues one per line followed by a summary.
func writeValidation(w io.Writer, name string, res *schema.ValidationResult) {
	for _, issue := range res.Errors {
		fmt.Fprintf(w, "%s %s %s\n", errorStyle.Render("error"), mutedStyle.Render(issue.Path), issue.Message)
	}
	for _, issue := range res.Warnings {
		fmt.Fprintf(w, "%s %s %s\n", warnStyle.Render("warning"), mutedStyle.Render(issue.Path), issue.Message)
	}
	if res.Valid() {
		fmt.Fprintf(w, "%s %s\n", okStyle.Render("valid"), name)
		return
	}
	fmt.Fprintf(w, "%s %s: %d error(s)\n", errorStyle.Render("invalid"), name, len(res.Errors))
}
