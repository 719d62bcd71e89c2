package directive

import (
	"encoding/json"
	"regexp"
	"strings"
)

// APICall is a parsed business API invocation emitted by the language
// model inside its reply text.
type APICall struct {
	Name    string
	Payload map[string]any
	Raw     string
}

// KBSearch is a parsed knowledge-base lookup request.
type KBSearch struct {
	Query string
	Raw   string
}

var (
	apiCallRe  = regexp.MustCompile(`\[API_CALL:\s*([A-Za-z0-9_.-]+)\s*(\{[^\[\]]*\})?\s*\]`)
	kbSearchRe = regexp.MustCompile(`\[SEARCH_KB:\s*'([^']*)'\s*\]`)
	thinkRe    = regexp.MustCompile(`(?s)<think>.*?</think>`)
	// An unterminated think block swallows everything after it.
	openThinkRe = regexp.MustCompile(`(?s)<think>.*$`)
)

// Extraction is the result of pulling directives out of a model reply.
// Speech holds the reply with every directive token removed.
type Extraction struct {
	Speech    string
	Calls     []APICall
	Searches  []KBSearch
	Malformed []string
}

// Extract finds every API call and KB search directive in the text and
// strips them out of the speakable remainder. Payloads that are not
// valid JSON objects are reported as malformed rather than dropped
// silently; the caller decides whether to dispatch, clarify or ignore.
func Extract(text string) Extraction {
	ex := Extraction{Speech: text}

	for _, m := range apiCallRe.FindAllStringSubmatch(text, -1) {
		call := APICall{Name: m[1], Raw: m[0]}
		if m[2] != "" {
			if err := json.Unmarshal([]byte(m[2]), &call.Payload); err != nil {
				ex.Malformed = append(ex.Malformed, m[0])
				ex.Speech = strings.Replace(ex.Speech, m[0], "", 1)
				continue
			}
		}
		ex.Calls = append(ex.Calls, call)
		ex.Speech = strings.Replace(ex.Speech, m[0], "", 1)
	}

	for _, m := range kbSearchRe.FindAllStringSubmatch(text, -1) {
		ex.Searches = append(ex.Searches, KBSearch{Query: m[1], Raw: m[0]})
		ex.Speech = strings.Replace(ex.Speech, m[0], "", 1)
	}

	ex.Speech = strings.TrimSpace(ex.Speech)
	return ex
}

// Sanitize removes chain-of-thought blocks a reasoning model may leak
// into its reply before any directive parsing happens.
func Sanitize(text string) string {
	text = thinkRe.ReplaceAllString(text, "")
	text = openThinkRe.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

var (
	mdHeadingRe  = regexp.MustCompile(`(?m)^#{1,6}\s*`)
	mdEmphasisRe = regexp.MustCompile(`[*_]{1,3}([^*_]+)[*_]{1,3}`)
	mdCodeRe     = regexp.MustCompile("`{1,3}([^`]*)`{1,3}")
	mdLinkRe     = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	mdBulletRe   = regexp.MustCompile(`(?m)^\s*[-*+]\s+`)
	multiSpaceRe = regexp.MustCompile(`[ \t]{2,}`)
	multiLineRe  = regexp.MustCompile(`\n{2,}`)
)

// CleanForSpeech strips markdown decoration that a speech synthesizer
// would read aloud verbatim.
func CleanForSpeech(text string) string {
	text = mdCodeRe.ReplaceAllString(text, "$1")
	text = mdLinkRe.ReplaceAllString(text, "$1")
	text = mdHeadingRe.ReplaceAllString(text, "")
	text = mdEmphasisRe.ReplaceAllString(text, "$1")
	text = mdBulletRe.ReplaceAllString(text, "")
	text = multiSpaceRe.ReplaceAllString(text, " ")
	text = multiLineRe.ReplaceAllString(text, "\n")
	return strings.TrimSpace(text)
}
