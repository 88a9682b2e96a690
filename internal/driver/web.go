package driver

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	logx "postpulse/pkg/logx"
)

// Config tunes the web driver. Everything the heuristics key on is
// injectable: selector lists, submit word lists, waits. Zero values fall
// back to the defaults the destination platform is known to need.
type Config struct {
	BaseURL       string
	SessionCookie string // raw Cookie header value for the authenticated session

	ComposerSelectors []string
	SubmitWords       []string
	ExcludeWords      []string

	SettleDelay     time.Duration // initial wait after page load
	ReadyDelay      time.Duration // extra wait once the composer is visible
	DegradedDelay   time.Duration // fallback wait when the composer never shows
	ComposerPoll    time.Duration
	ComposerTimeout time.Duration

	RatePerMinute int // send pacing; 0 means default
}

func defaultComposerSelectors() []string {
	return []string{
		`[contenteditable="true"]`,
		`.ProseMirror`,
		`textarea`,
		`[role="textbox"]`,
		`div[data-placeholder]`,
		`[data-lexical-editor]`,
	}
}

func defaultSubmitWords() []string {
	return []string{"post", "publish", "share", "submit", "send"}
}

func defaultExcludeWords() []string {
	return []string{"cancel", "delete"}
}

func (c Config) withDefaults() Config {
	if len(c.ComposerSelectors) == 0 {
		c.ComposerSelectors = defaultComposerSelectors()
	}
	if len(c.SubmitWords) == 0 {
		c.SubmitWords = defaultSubmitWords()
	}
	if len(c.ExcludeWords) == 0 {
		c.ExcludeWords = defaultExcludeWords()
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = 4 * time.Second
	}
	if c.ReadyDelay <= 0 {
		c.ReadyDelay = 2 * time.Second
	}
	if c.DegradedDelay <= 0 {
		c.DegradedDelay = 8 * time.Second
	}
	if c.ComposerPoll <= 0 {
		c.ComposerPoll = 500 * time.Millisecond
	}
	if c.ComposerTimeout <= 0 {
		c.ComposerTimeout = 10 * time.Second
	}
	if c.RatePerMinute <= 0 {
		c.RatePerMinute = 6
	}
	return c
}

// Web drives the destination's web surface over plain HTTP + heuristic
// DOM matching. It cannot confirm the platform accepted the post; a 2xx
// on form submission is reported as success.
type Web struct {
	cfg     Config
	log     logx.Logger
	http    *http.Client
	limiter *rate.Limiter
}

func NewWeb(cfg Config, log logx.Logger) *Web {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Web{
		cfg:     cfg,
		log:     log,
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(float64(cfg.RatePerMinute)/60.0), 1),
	}
}

func (w *Web) destURL(slug string) string {
	return strings.TrimRight(w.cfg.BaseURL, "/") + "/" + strings.TrimLeft(slug, "/")
}

func (w *Web) fetch(ctx context.Context, rawURL string) (*goquery.Document, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, err
	}
	if w.cfg.SessionCookie != "" {
		req.Header.Set("Cookie", w.cfg.SessionCookie)
	}
	resp, err := w.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return doc, resp.StatusCode, nil
}

// findComposer returns the first element matching the selector list.
func (w *Web) findComposer(doc *goquery.Document) *goquery.Selection {
	for _, sel := range w.cfg.ComposerSelectors {
		s := doc.Find(sel).First()
		if s.Length() > 0 {
			return s
		}
	}
	return nil
}

// looksLikeLogin detects an auth wall: a password input or a login form.
func looksLikeLogin(doc *goquery.Document) bool {
	if doc.Find(`input[type="password"]`).Length() > 0 {
		return true
	}
	found := false
	doc.Find("form").EachWithBreak(func(_ int, f *goquery.Selection) bool {
		action, _ := f.Attr("action")
		if strings.Contains(strings.ToLower(action), "login") {
			found = true
			return false
		}
		return true
	})
	return found
}

// findSubmitButton picks the submit control by heuristic text matching:
// one of the configured words, none of the excluded words, and short
// enough to be a button label rather than body text.
func (w *Web) findSubmitButton(doc *goquery.Document) *goquery.Selection {
	candidates := doc.Find(`button, [role="button"], [type="submit"], a[role="button"], [class*="submit"]`)

	var match *goquery.Selection
	candidates.EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := strings.ToLower(strings.TrimSpace(s.Text()))
		if text == "" || len(text) >= 40 {
			return true
		}
		for _, bad := range w.cfg.ExcludeWords {
			if strings.Contains(text, bad) {
				return true
			}
		}
		for _, word := range w.cfg.SubmitWords {
			if strings.Contains(text, word) {
				match = s
				return false
			}
		}
		return true
	})
	return match
}

// WaitForComposer polls the destination page until a composer control shows
// up or the timeout lapses.
func (w *Web) WaitForComposer(ctx context.Context, slug string) bool {
	deadline := time.Now().Add(w.cfg.ComposerTimeout)
	for {
		doc, status, err := w.fetch(ctx, w.destURL(slug))
		if err == nil && status/100 == 2 && w.findComposer(doc) != nil {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(w.cfg.ComposerPoll):
		}
	}
}

func (w *Web) Publish(ctx context.Context, job Job) Result {
	if err := w.limiter.Wait(ctx); err != nil {
		return Transient(CodeSendError, err.Error())
	}

	pageURL := w.destURL(job.DestinationSlug)
	w.log.Debug("opening destination page",
		logx.String("post_id", job.PostID),
		logx.String("url", pageURL),
	)

	doc, status, err := w.fetch(ctx, pageURL)
	if err != nil {
		return Transient(CodeSendError, err.Error())
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return Terminal(CodeAuthRequired, "destination rejected the session")
	}
	if status/100 != 2 {
		return Transient(CodeSendError, fmt.Sprintf("destination page returned %d", status))
	}
	if looksLikeLogin(doc) {
		return Terminal(CodeAuthRequired, "destination presented a login page")
	}

	// Let client-side rendering settle before trusting the DOM.
	if !sleepCtx(ctx, w.cfg.SettleDelay) {
		return Transient(CodeSendError, ctx.Err().Error())
	}

	if w.WaitForComposer(ctx, job.DestinationSlug) {
		if !sleepCtx(ctx, w.cfg.ReadyDelay) {
			return Transient(CodeSendError, ctx.Err().Error())
		}
	} else {
		// Composer never showed; wait longer and try anyway.
		w.log.Warn("composer not detected; degrading",
			logx.String("post_id", job.PostID),
			logx.String("slug", job.DestinationSlug),
		)
		if !sleepCtx(ctx, w.cfg.DegradedDelay) {
			return Transient(CodeSendError, ctx.Err().Error())
		}
	}

	// Final snapshot of the page for the actual submission.
	doc, status, err = w.fetch(ctx, pageURL)
	if err != nil {
		return Transient(CodeSendError, err.Error())
	}
	if status/100 != 2 {
		return Transient(CodeSendError, fmt.Sprintf("destination page returned %d", status))
	}

	composer := w.findComposer(doc)
	if composer == nil {
		return Transient(CodeComposerNotFound, "no composer control on the destination page")
	}
	submit := w.findSubmitButton(doc)
	if submit == nil {
		// Never submit blind: a missing control is a structured failure,
		// not a silent success.
		return Transient(CodeSubmitNotFound, "no submit control on the destination page")
	}

	form := composer.Closest("form")
	action := pageURL
	method := http.MethodPost
	if form.Length() > 0 {
		if a, ok := form.Attr("action"); ok && strings.TrimSpace(a) != "" {
			action = resolveURL(pageURL, a)
		}
		if m, ok := form.Attr("method"); ok && strings.TrimSpace(m) != "" {
			method = strings.ToUpper(strings.TrimSpace(m))
		}
	}

	values := url.Values{}
	if form.Length() > 0 {
		form.Find("input[name]").Each(func(_ int, in *goquery.Selection) {
			name, _ := in.Attr("name")
			val, _ := in.Attr("value")
			if name != "" {
				values.Set(name, val)
			}
		})
	}
	field := "content"
	if name, ok := composer.Attr("name"); ok && name != "" {
		field = name
	}
	values.Set(field, composeBody(job))
	if job.Title != "" {
		values.Set("title", job.Title)
	}

	req, err := http.NewRequestWithContext(ctx, method, action, strings.NewReader(values.Encode()))
	if err != nil {
		return Transient(CodeSendError, err.Error())
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if w.cfg.SessionCookie != "" {
		req.Header.Set("Cookie", w.cfg.SessionCookie)
	}

	resp, err := w.http.Do(req)
	if err != nil {
		return Transient(CodeSendError, err.Error())
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return Terminal(CodeAuthRequired, "destination rejected the session")
	case resp.StatusCode/100 == 2:
		// Submission accepted at the HTTP level. Whether the platform
		// actually created the post is not confirmed.
		return OK()
	default:
		return Transient(CodeUnknown, fmt.Sprintf("submit returned %d", resp.StatusCode))
	}
}

// composeBody renders body text plus an optional media link. Giphy page
// URLs are rewritten to direct media URLs so the destination embeds them.
func composeBody(job Job) string {
	body := job.Body
	media := rewriteGiphyURL(job.MediaURL)
	if media != "" {
		if body != "" {
			body += "\n\n"
		}
		body += media
	}
	return body
}

func rewriteGiphyURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	host := strings.ToLower(u.Host)
	if !strings.Contains(host, "giphy.com") || strings.HasPrefix(host, "media.") {
		return raw
	}
	// giphy.com/gifs/<slug>-<id> -> media.giphy.com/media/<id>/giphy.gif
	segs := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(segs) == 0 {
		return raw
	}
	last := segs[len(segs)-1]
	if i := strings.LastIndex(last, "-"); i >= 0 && i+1 < len(last) {
		last = last[i+1:]
	}
	if last == "" {
		return raw
	}
	return "https://media.giphy.com/media/" + last + "/giphy.gif"
}

func resolveURL(base, ref string) string {
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
