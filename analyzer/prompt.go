package analyzer

import (
	"strings"

	"github.com/erradvise/erradvise/core"
)

// maxStackLines bounds the stack excerpt included in prompts
const maxStackLines = 20

// BuildPrompt renders a report into the analysis prompt. Inputs are
// sanitized and the stack is truncated so prompts stay bounded no
// matter what the caller hands in.
func BuildPrompt(report core.Report) string {
	var b strings.Builder

	b.WriteString("You are a senior engineer diagnosing a production error. ")
	b.WriteString("Analyze the error below and suggest the most likely cause and fix. ")
	b.WriteString(`Respond with a single JSON object of the form {"advice": "<your analysis>"} and nothing else. `)
	b.WriteString(`If you cannot produce useful advice, respond with {"advice": ""}.`)
	b.WriteString("\n\n")

	b.WriteString("Error: ")
	b.WriteString(core.SanitizeMessage(report.Name))
	b.WriteString(": ")
	b.WriteString(core.SanitizeMessage(report.Message))
	b.WriteString("\n")

	if report.Context != "" {
		b.WriteString("Context: ")
		b.WriteString(core.SanitizeMessage(report.Context))
		b.WriteString("\n")
	}

	if excerpt := stackExcerpt(report.Stack); excerpt != "" {
		b.WriteString("Stack trace:\n")
		b.WriteString(excerpt)
		b.WriteString("\n")
	}

	return b.String()
}

// stackExcerpt keeps the first maxStackLines lines of the stack
func stackExcerpt(stack string) string {
	stack = strings.TrimSpace(stack)
	if stack == "" {
		return ""
	}

	lines := strings.Split(stack, "\n")
	if len(lines) > maxStackLines {
		lines = lines[:maxStackLines]
		lines = append(lines, "... (truncated)")
	}
	for i, line := range lines {
		lines[i] = core.SanitizeMessage(line)
	}
	return strings.Join(lines, "\n")
}
