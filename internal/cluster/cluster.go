// Package cluster groups feed messages into threads and triages them by a
// weighted keyword score so only the most relevant threads reach the
// expensive analysis phase.
package cluster

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/akarol/lore-digest/internal/config"
	"github.com/akarol/lore-digest/internal/feed"
)

// Thread is a group of messages sharing a normalized subject key. Created
// once per run during clustering; never mutated after the ingestion pass.
type Thread struct {
	Key        string
	Units      []feed.Message
	Authors    []string
	Score      float64
	Matched    []string
	Submission bool

	// first-seen index, used to keep sort order deterministic on ties.
	order int
}

// Subject returns the thread's display subject: the raw subject of its
// first (root) unit.
func (t *Thread) Subject() string {
	if len(t.Units) == 0 {
		return t.Key
	}
	return t.Units[0].Subject
}

// Root returns the thread root message: the first non-reply unit if one
// exists, otherwise the first unit.
func (t *Thread) Root() feed.Message {
	return t.Units[t.rootIndex()]
}

// Replies returns all units other than the root, in fetch order.
func (t *Thread) Replies() []feed.Message {
	ri := t.rootIndex()
	var replies []feed.Message
	for i, u := range t.Units {
		if i != ri {
			replies = append(replies, u)
		}
	}
	return replies
}

func (t *Thread) rootIndex() int {
	for i, u := range t.Units {
		if !u.IsReply {
			return i
		}
	}
	return 0
}

// Build groups messages into threads by normalized subject key. Units keep
// fetch order inside a thread. Subjects that normalize to "" fall back to
// the raw subject so they still cluster deterministically.
func Build(msgs []feed.Message) []*Thread {
	byKey := make(map[string]*Thread)
	var threads []*Thread

	for _, m := range msgs {
		key := feed.NormalizeSubject(m.Subject)
		if key == "" {
			key = m.Subject
		}

		t, ok := byKey[key]
		if !ok {
			t = &Thread{Key: key, order: len(threads)}
			byKey[key] = t
			threads = append(threads, t)
		}
		t.Units = append(t.Units, m)
		if !containsString(t.Authors, m.Author) {
			t.Authors = append(t.Authors, m.Author)
		}
		if feed.IsSubmission(m.Subject) {
			t.Submission = true
		}
	}
	return threads
}

// Score evaluates every thread against the keyword weight table. The
// candidate text is one concatenation of all units' subject plus a bounded
// body prefix; each keyword contributes its weight at most once per thread,
// so thread size raises the score only through the volume bonus:
// 0.5 per message plus 0.3 per distinct author.
func Score(threads []*Thread, scoring config.ScoringConfig) {
	for _, t := range threads {
		var blob strings.Builder
		for _, u := range t.Units {
			blob.WriteString(u.Subject)
			blob.WriteByte(' ')
			blob.WriteString(bodyPrefix(u.Body, scoring.BodyPrefixBytes))
			blob.WriteByte(' ')
		}
		text := strings.ToLower(blob.String())

		var score float64
		t.Matched = t.Matched[:0]
		for term, weight := range scoring.Keywords {
			if strings.Contains(text, term) {
				score += weight
				if weight > 0 {
					t.Matched = append(t.Matched, term)
				}
			}
		}
		sort.Strings(t.Matched)

		score += 0.5*float64(len(t.Units)) + 0.3*float64(len(t.Authors))
		t.Score = score
	}
}

// bodyPrefix bounds the scored body text, backing off to a rune boundary so
// the cut never leaves a broken UTF-8 sequence.
func bodyPrefix(body string, n int) string {
	if len(body) <= n {
		return body
	}
	for n > 0 && !utf8.RuneStart(body[n]) {
		n--
	}
	return body[:n]
}

// Partition splits scored threads for triage with one stable sort by
// descending score (ties keep first-seen order). It returns the top
// maxAnalyzed threads with score >= minScore, and the residual list: the
// remaining threads with non-negative score, still in score order. Threads
// with negative totals are dropped entirely.
func Partition(threads []*Thread, minScore float64, maxAnalyzed int) (analyzed, residual []*Thread) {
	sorted := make([]*Thread, len(threads))
	copy(sorted, threads)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score > sorted[j].Score
		}
		return sorted[i].order < sorted[j].order
	})

	for _, t := range sorted {
		switch {
		case t.Score >= minScore && len(analyzed) < maxAnalyzed:
			analyzed = append(analyzed, t)
		case t.Score >= 0:
			residual = append(residual, t)
		}
	}
	return analyzed, residual
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
