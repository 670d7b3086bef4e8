package chat

import (
	"regexp"
	"strings"
)

// illustrationKeywords mark prompts that already ask for an illustrated style.
var illustrationKeywords = regexp.MustCompile(`(?i)\b(?:illustration|illustrated|cartoon|drawing|painting|sketch|watercolou?r|digital art|anime|clip ?art|comic)\b`)

// flaggedWords are replaced with neutral wording before a prompt is sent upstream.
// The table is applied in order.
var flaggedWords = []struct {
	pattern     *regexp.Regexp
	replacement string
}{
	{regexp.MustCompile(`(?i)\bbloody\b`), "dramatic"},
	{regexp.MustCompile(`(?i)\bblood\b`), "red paint"},
	{regexp.MustCompile(`(?i)\bguns?\b`), "toy blaster"},
	{regexp.MustCompile(`(?i)\bweapons?\b`), "tool"},
	{regexp.MustCompile(`(?i)\bkill(?:s|ed|ing)?\b`), "defeat"},
	{regexp.MustCompile(`(?i)\bfight(?:s|ing)?\b`), "contest"},
	{regexp.MustCompile(`(?i)\bdead\b`), "sleeping"},
	{regexp.MustCompile(`(?i)\bexplosions?\b`), "burst of color"},
	{regexp.MustCompile(`(?i)\bsexy\b`), "elegant"},
	{regexp.MustCompile(`(?i)\bscary\b`), "mysterious"},
}

const illustrationFraming = "A digital illustration of "

// sanitizePrompt replaces flagged words with neutral synonyms.
func sanitizePrompt(prompt string) string {
	for _, f := range flaggedWords {
		prompt = f.pattern.ReplaceAllLiteralString(prompt, f.replacement)
	}
	return prompt
}

// rewritePrompt sanitizes prompt and adds an illustration framing when the
// prompt does not ask for one.
func rewritePrompt(prompt string) string {
	prompt = sanitizePrompt(prompt)
	if illustrationKeywords.MatchString(prompt) {
		return prompt
	}
	return illustrationFraming + prompt
}

// imageAttempts lists the prompts to try in order: the rewritten prompt, then
// one per alternative template. A template's %s is replaced by the sanitized
// prompt; templates without it get the prompt appended.
func imageAttempts(prompt string, alternatives []string) []string {
	core := sanitizePrompt(prompt)
	attempts := []string{rewritePrompt(prompt)}
	for _, tpl := range alternatives {
		if strings.Contains(tpl, "%s") {
			attempts = append(attempts, strings.Replace(tpl, "%s", core, 1))
		} else {
			attempts = append(attempts, strings.TrimSpace(tpl)+": "+core)
		}
	}
	return attempts
}
