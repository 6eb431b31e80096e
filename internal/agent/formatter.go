package agent

import "regexp"

var (
	// boldPattern matches the shortest **span** on a line.
	boldPattern = regexp.MustCompile(`\*\*(.+?)\*\*`)
	// fenceLangPattern matches an opening code fence carrying a language tag.
	fenceLangPattern = regexp.MustCompile("```([A-Za-z0-9#+-]+)\n")
)

// FormatResponse converts LLM markdown into Slack mrkdwn.
//
// Double-asterisk emphasis becomes single-asterisk, and a fenced code block's
// language tag is moved into an emphasised label above a bare fence, since Slack
// renders neither. It is a single pass and is not idempotent against text
// that already mixes single- and double-asterisk emphasis.
func FormatResponse(text string) string {
	out := boldPattern.ReplaceAllString(text, "*$1*")
	out = fenceLangPattern.ReplaceAllString(out, "*$1*:\n```\n")
	return out
}
