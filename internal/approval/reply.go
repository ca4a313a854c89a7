package approval

import "strings"

// quoteMarkers start the quoted/threaded part of an owner's email reply.
// Everything from the first marker on is discarded.
var quoteMarkers = []string{
	"\n\nOp ",   // Dutch: "Op [datum] schreef ..."
	"\n\nOn ",   // English: "On [date] ... wrote:"
	"\n\n---",
	"\n\n___",
	"═══",       // separator used in our own approval emails
	"\n\nVan:",
	"\n\nFrom:",
}

// ExtractReplyContent strips quoted text from an email body, leaving only
// what the owner actually typed.
func ExtractReplyContent(body string) string {
	content := body
	for _, marker := range quoteMarkers {
		if idx := strings.Index(content, marker); idx > 0 {
			content = content[:idx]
		}
	}
	return strings.TrimSpace(content)
}

// affirmatives are the exact replies that approve the suggested text as-is.
var affirmatives = map[string]bool{
	"ok":          true,
	"verstuur":    true,
	"goedgekeurd": true,
	"ja":          true,
	"yes":         true,
	"send":        true,
}

// IsAffirmative reports whether the reply approves the suggestion unchanged.
// Anything else non-empty counts as a replacement text.
func IsAffirmative(reply string) bool {
	return affirmatives[strings.ToLower(strings.TrimSpace(reply))]
}
