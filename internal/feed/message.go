package feed

import (
	"regexp"
	"strings"
	"time"
)

// Message is one atomic content unit parsed from a feed. Immutable once
// parsed.
type Message struct {
	FeedID  string
	Author  string
	Subject string
	Body    string
	Date    time.Time
	Link    string
	IsReply bool
}

var (
	// Leading reply/forward markers, possibly chained: "Re: Re: Fwd: ...".
	replyPrefixRe = regexp.MustCompile(`(?i)^\s*((re|fwd?|aw)\s*(\[\d+\])?\s*:\s*)+`)

	// Bracketed submission tags: "[PATCH v3 2/7]", "[RFC]", "[GIT PULL]", etc.
	bracketTagRe = regexp.MustCompile(`\[[^\]]{0,60}\]`)

	// Submission/patch markers used to flag a thread as a submission.
	submissionRe = regexp.MustCompile(`(?i)\[\s*(patch|rfc|pull|git pull)\b`)

	whitespaceRe = regexp.MustCompile(`\s+`)
)

// NormalizeSubject produces the clustering key for a subject line: reply
// markers and bracketed version tags stripped, case folded, whitespace
// collapsed. Returns "" when nothing survives; callers fall back to the raw
// subject so unmatched units still cluster deterministically.
func NormalizeSubject(subject string) string {
	s := subject
	// Strip reply markers repeatedly, since tags and markers interleave:
	// "Re: [PATCH v2] Re: foo".
	for {
		stripped := replyPrefixRe.ReplaceAllString(s, "")
		stripped = bracketTagRe.ReplaceAllString(stripped, " ")
		if stripped == s {
			break
		}
		s = stripped
	}
	s = strings.ToLower(s)
	s = whitespaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// IsSubmission reports whether the subject carries a patch/submission tag.
func IsSubmission(subject string) bool {
	return submissionRe.MatchString(subject)
}

// IsReplySubject reports whether the subject alone marks the message as a
// reply. Used when the feed entry has no thread-linkage metadata.
func IsReplySubject(subject string) bool {
	return replyPrefixRe.MatchString(subject)
}
