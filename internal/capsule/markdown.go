package capsule

import (
	"fmt"
	"strings"
)

// Markdown renders the capsule as a short markdown explanation.
// Section order is fixed so the output is deterministic.
func (c Capsule) Markdown() string {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", c.ViewLabel)
	fmt.Fprintf(&b, "**Mode:** %s | **Confidence:** %s", c.Mode, c.Confidence)
	if c.Pinned {
		b.WriteString(" | pinned")
	}
	b.WriteString("\n\n")

	b.WriteString("## Why this view\n\n")
	b.WriteString(sentence(c.Reason))
	b.WriteString("\n")

	if len(c.SignalsUsed) > 0 {
		b.WriteString("\n## Signals used\n\n")
		for _, s := range c.SignalsUsed {
			fmt.Fprintf(&b, "- `%s`\n", s)
		}
	}

	if len(c.Alternatives) > 0 {
		b.WriteString("\n## Also considered\n\n")
		for _, alt := range c.Alternatives {
			fmt.Fprintf(&b, "- **%s**: %s\n", alt.Mode, alt.Reason)
		}
	}

	if len(c.WouldChangeIf) > 0 {
		b.WriteString("\n## What would change this\n\n")
		for _, w := range c.WouldChangeIf {
			fmt.Fprintf(&b, "- %s\n", w)
		}
	}

	if len(c.Actions) > 0 {
		b.WriteString("\n## Actions\n\n")
		for _, a := range c.Actions {
			if a.Kind == ActionSwitchView {
				fmt.Fprintf(&b, "- `%s` %s: %s\n", a.Kind, a.Mode, a.Label)
				continue
			}
			fmt.Fprintf(&b, "- `%s`: %s\n", a.Kind, a.Label)
		}
	}

	return b.String()
}

// sentence capitalizes the first letter and ends with a period.
func sentence(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	s = strings.ToUpper(s[:1]) + s[1:]
	if !strings.HasSuffix(s, ".") {
		s += "."
	}
	return s
}
