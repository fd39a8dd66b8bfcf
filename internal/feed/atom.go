package feed

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log"
	"net/http"
	"regexp"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/akarol/lore-digest/internal/config"
)

const userAgent = "lore-digest/1.0 (+https://github.com/akarol/lore-digest)"

// FetchError indicates a feed could not be fetched or parsed at all. It is
// fatal to the run: no partial bulletin is produced.
type FetchError struct {
	FeedID string
	URL    string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetching feed %s (%s): %v", e.FeedID, e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// atomFeed mirrors the subset of the Atom schema that lore-style archives
// emit, including the threading extension.
type atomFeed struct {
	XMLName xml.Name    `xml:"feed"`
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	Title   string `xml:"title"`
	Author  struct {
		Name  string `xml:"name"`
		Email string `xml:"email"`
	} `xml:"author"`
	Updated   string     `xml:"updated"`
	Links     []atomLink `xml:"link"`
	Content   string     `xml:"content"`
	InReplyTo *struct {
		Ref string `xml:"ref,attr"`
	} `xml:"http://purl.org/syndication/thread/1.0 in-reply-to"`
}

type atomLink struct {
	Rel  string `xml:"rel,attr"`
	Href string `xml:"href,attr"`
}

// Fetcher retrieves feed windows with bounded retries and polite pacing.
type Fetcher struct {
	client     *http.Client
	limiter    *rate.Limiter
	maxRetries int
	browser    *Browser
}

// NewFetcher creates a Fetcher. The browser may be nil, in which case
// page-kind feeds fail with a FetchError.
func NewFetcher(browser *Browser) *Fetcher {
	return &Fetcher{
		client:     &http.Client{Timeout: 25 * time.Second},
		limiter:    rate.NewLimiter(rate.Every(3*time.Second), 1),
		maxRetries: 3,
		browser:    browser,
	}
}

// Fetch retrieves the messages of one feed within [start, end]. A total
// failure after all retries returns a *FetchError.
func (f *Fetcher) Fetch(ctx context.Context, feed config.Feed, start, end time.Time) ([]Message, error) {
	switch feed.Kind {
	case "page":
		return f.fetchPage(ctx, feed)
	default:
		return f.fetchAtom(ctx, feed, start, end)
	}
}

func (f *Fetcher) fetchAtom(ctx context.Context, feed config.Feed, start, end time.Time) ([]Message, error) {
	raw, err := f.get(ctx, feed.URL)
	if err != nil {
		return nil, &FetchError{FeedID: feed.ID, URL: feed.URL, Err: err}
	}

	var parsed atomFeed
	if err := xml.Unmarshal(raw, &parsed); err != nil {
		return nil, &FetchError{FeedID: feed.ID, URL: feed.URL, Err: fmt.Errorf("parsing atom: %w", err)}
	}

	var msgs []Message
	for _, e := range parsed.Entries {
		date, err := parseAtomTime(e.Updated)
		if err != nil {
			log.Printf("feed: skipping entry with bad date %q in %s", e.Updated, feed.ID)
			continue
		}
		if date.Before(start) || date.After(end) {
			continue
		}
		msgs = append(msgs, Message{
			FeedID:  feed.ID,
			Author:  e.Author.Name,
			Subject: strings.TrimSpace(e.Title),
			Body:    stripMarkup(e.Content),
			Date:    date,
			Link:    alternateLink(e.Links),
			IsReply: e.InReplyTo != nil || IsReplySubject(e.Title),
		})
	}
	return msgs, nil
}

// fetchPage renders a JS-heavy listing page and converts it into messages.
// Structured Title:/URL:/Location: blocks become one message each; pages
// without such blocks become a single root message carrying the page text.
func (f *Fetcher) fetchPage(ctx context.Context, feed config.Feed) ([]Message, error) {
	if f.browser == nil {
		return nil, &FetchError{FeedID: feed.ID, URL: feed.URL, Err: fmt.Errorf("no browser available for page feed")}
	}
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, &FetchError{FeedID: feed.ID, URL: feed.URL, Err: err}
	}

	text, err := f.browser.FetchText(ctx, feed.URL)
	if err != nil {
		return nil, &FetchError{FeedID: feed.ID, URL: feed.URL, Err: err}
	}

	now := time.Now()
	listings := ParseListings(text)
	if len(listings) == 0 {
		return []Message{{
			FeedID:  feed.ID,
			Author:  feed.Name,
			Subject: feed.Name + " listings",
			Body:    truncate(text, 8000),
			Date:    now,
			Link:    feed.URL,
		}}, nil
	}

	msgs := make([]Message, 0, len(listings))
	for _, l := range listings {
		link := l.URL
		if link == "" {
			link = feed.URL
		}
		msgs = append(msgs, Message{
			FeedID:  feed.ID,
			Author:  feed.Name,
			Subject: l.Title,
			Body:    l.FullText,
			Date:    now,
			Link:    link,
		})
	}
	return msgs, nil
}

// get performs an HTTP GET with bounded exponential-backoff retries.
func (f *Fetcher) get(ctx context.Context, url string) ([]byte, error) {
	var lastErr error
	backoff := time.Second

	for attempt := 0; attempt < f.maxRetries; attempt++ {
		if attempt > 0 {
			log.Printf("feed: retrying %s in %s (attempt %d/%d)", url, backoff, attempt+1, f.maxRetries)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			backoff *= 2
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", userAgent)
		req.Header.Set("Accept", "application/atom+xml, application/xml, text/xml, */*")

		resp, err := f.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("HTTP %d", resp.StatusCode)
			continue
		}
		return body, nil
	}
	return nil, fmt.Errorf("after %d attempts: %w", f.maxRetries, lastErr)
}

// Listing is one structured block extracted from a page feed.
type Listing struct {
	Title    string
	URL      string
	Location string
	FullText string
}

var (
	listingSplitRe = regexp.MustCompile(`\n(?:\s*)?(?:Title: )`)
	listingURLRe   = regexp.MustCompile(`URL: (https?://\S+)`)
	listingLocRe   = regexp.MustCompile(`(?m)^Location: (.+)$`)
)

// ParseListings splits structured Title:/URL:/Location: text into listings.
// Pages that expose no such blocks return nil.
func ParseListings(text string) []Listing {
	if !strings.Contains(text, "Title: ") {
		return nil
	}
	parts := listingSplitRe.Split("\n"+text, -1)
	var listings []Listing
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		// After the split the title is the first line of the block.
		title, _, _ := strings.Cut(part, "\n")
		title = strings.TrimPrefix(title, "Title: ")
		title = strings.TrimSpace(title)
		if title == "" {
			continue
		}
		l := Listing{Title: title, FullText: truncate(part, 4000)}
		if m := listingURLRe.FindStringSubmatch(part); m != nil {
			l.URL = m[1]
		}
		if m := listingLocRe.FindStringSubmatch(part); m != nil {
			l.Location = strings.TrimSpace(m[1])
		}
		listings = append(listings, l)
	}
	return listings
}

var (
	scriptRe = regexp.MustCompile(`(?s)<script[^>]*>.*?</script>`)
	styleRe  = regexp.MustCompile(`(?s)<style[^>]*>.*?</style>`)
	tagRe    = regexp.MustCompile(`<[^>]+>`)
)

// stripMarkup converts HTML-ish content into plain text.
func stripMarkup(s string) string {
	s = scriptRe.ReplaceAllString(s, "")
	s = styleRe.ReplaceAllString(s, "")
	s = tagRe.ReplaceAllString(s, " ")
	s = strings.ReplaceAll(s, "&lt;", "<")
	s = strings.ReplaceAll(s, "&gt;", ">")
	s = strings.ReplaceAll(s, "&quot;", `"`)
	s = strings.ReplaceAll(s, "&#39;", "'")
	s = strings.ReplaceAll(s, "&amp;", "&")
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}

func parseAtomTime(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05Z0700"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}

func alternateLink(links []atomLink) string {
	for _, l := range links {
		if l.Rel == "alternate" || l.Rel == "" {
			return l.Href
		}
	}
	if len(links) > 0 {
		return links[0].Href
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
