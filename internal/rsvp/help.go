package rsvp

import (
	_ "embed"
	"strings"
)

//go:embed help.md
var helpDoc string

const commandsHeading = "## Commands\n"

// helpText returns the "Commands" section of the help document, rewritten for keyword.
func helpText(keyword string) string {
	section := helpDoc
	if _, after, ok := strings.Cut(helpDoc, commandsHeading); ok {
		section = after
	}
	section = strings.TrimSpace(section)
	if keyword != DefaultKeyWord {
		section = strings.ReplaceAll(section, "`"+DefaultKeyWord+" ", "`"+keyword+" ")
	}
	return section
}
