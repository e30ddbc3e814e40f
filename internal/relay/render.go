package relay

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/corbin-hayes/coderelay/internal/piston"
)

// apologyText is what users see for any upstream or system fault. The
// precise cause goes to the error log, never to chat.
const apologyText = "Sorry, something went wrong while running your code - please try again later"

// maintenanceText is the fixed notice returned while maintenance mode is on.
const maintenanceText = "The bot is in maintenance mode right now - runs are paused, please try again later"

// renderResult formats a backend result for chat: a short header, the run
// output fenced, capped at maxLines lines, and character-truncated with an
// ellipsis marker to stay under the platform ceiling. Mass-mention sequences
// in program output are neutralized before sending.
func renderResult(userName string, result *piston.Result, maxLines, maxChars int) string {
	output := result.Run.Output
	if output == "" && result.Compile != nil && result.Compile.Stderr != "" {
		output = result.Compile.Stderr
	}
	if strings.TrimSpace(output) == "" {
		return fmt.Sprintf("Your %s code ran without output, %s", result.Language, userName)
	}

	lines := strings.Split(output, "\n")
	if len(lines) > maxLines {
		lines = lines[:maxLines]
	}
	output = neutralizeMentions(strings.Join(lines, "\n"))

	header := fmt.Sprintf("Here is your %s output, %s:\n```\n", result.Language, userName)
	const footer = "\n```"
	const ellipsis = "\n... (output truncated)"

	room := maxChars - len(header) - len(footer)
	if len(output) > room {
		cut := room - len(ellipsis)
		if cut < 0 {
			cut = 0
		}
		// Step back to a rune boundary so the cut never emits invalid UTF-8.
		for cut > 0 && !utf8.RuneStart(output[cut]) {
			cut--
		}
		output = output[:cut] + ellipsis
	}
	return header + output + footer
}

// neutralizeMentions defuses sequences that would ping rooms or users if the
// executed program printed them.
func neutralizeMentions(s string) string {
	s = strings.ReplaceAll(s, "@everyone", "@\u200beveryone")
	s = strings.ReplaceAll(s, "@here", "@\u200bhere")
	s = strings.ReplaceAll(s, "<@", "<@\u200b")
	return s
}

// truncate returns s cut to maxLen with "..." appended if needed.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// chunkMessage splits text into chunks of at most maxLen characters,
// preferring to break at newlines. Used for multi-page replies like the
// error log listing detail view.
func chunkMessage(text string, maxLen int) []string {
	if maxLen <= 0 {
		maxLen = 1900
	}
	if len(text) <= maxLen {
		return []string{text}
	}

	var chunks []string
	for len(text) > 0 {
		if len(text) <= maxLen {
			chunks = append(chunks, text)
			break
		}

		// Look for a newline in the second half of the chunk to break at.
		chunk := text[:maxLen]
		breakAt := -1
		half := maxLen / 2
		for i := maxLen - 1; i >= half; i-- {
			if chunk[i] == '\n' {
				breakAt = i
				break
			}
		}

		if breakAt >= 0 {
			chunks = append(chunks, text[:breakAt])
			text = text[breakAt+1:] // skip the newline
		} else {
			chunks = append(chunks, chunk)
			text = text[maxLen:]
		}
	}
	return chunks
}
