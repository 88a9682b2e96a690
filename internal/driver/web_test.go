package driver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"

	logx "postpulse/pkg/logx"
)

func parseDoc(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return doc
}

func fastConfig(base string) Config {
	return Config{
		BaseURL:         base,
		SettleDelay:     time.Millisecond,
		ReadyDelay:      time.Millisecond,
		DegradedDelay:   time.Millisecond,
		ComposerPoll:    time.Millisecond,
		ComposerTimeout: 20 * time.Millisecond,
		RatePerMinute:   60000,
	}
}

const composerPage = `<html><body>
<form action="/post" method="post">
  <input type="hidden" name="csrf" value="tok123">
  <textarea name="content"></textarea>
  <button type="submit">Post</button>
  <button>Cancel</button>
</form>
</body></html>`

func TestPublishSubmitsComposerForm(t *testing.T) {
	var posted url.Values
	mux := http.NewServeMux()
	mux.HandleFunc("/g/demo", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(composerPage))
	})
	mux.HandleFunc("/post", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		_ = r.ParseForm()
		posted = r.PostForm
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	w := NewWeb(fastConfig(srv.URL), logx.Nop())
	res := w.Publish(context.Background(), Job{
		PostID:          "p1",
		DestinationSlug: "g/demo",
		Body:            "hello world",
		MediaURL:        "https://giphy.com/gifs/funny-cat-abc123",
	})
	if !res.Success() {
		t.Fatalf("expected success, got %+v", res)
	}
	if posted == nil {
		t.Fatalf("nothing was posted")
	}
	if posted.Get("csrf") != "tok123" {
		t.Fatalf("hidden form field not carried: %v", posted)
	}
	content := posted.Get("content")
	if !strings.Contains(content, "hello world") {
		t.Fatalf("body missing from content: %q", content)
	}
	if !strings.Contains(content, "https://media.giphy.com/media/abc123/giphy.gif") {
		t.Fatalf("giphy url not rewritten: %q", content)
	}
}

func TestPublishMissingSubmitButton(t *testing.T) {
	page := `<html><body><form><textarea name="content"></textarea>
	<button>Cancel</button></form></body></html>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(page))
	}))
	defer srv.Close()

	w := NewWeb(fastConfig(srv.URL), logx.Nop())
	res := w.Publish(context.Background(), Job{DestinationSlug: "g/demo", Body: "x"})
	if res.Success() {
		t.Fatalf("expected failure")
	}
	if res.Kind != KindTransient || res.Code != CodeSubmitNotFound {
		t.Fatalf("expected transient %s, got %+v", CodeSubmitNotFound, res)
	}
}

func TestPublishMissingComposer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><body><p>nothing here</p></body></html>`))
	}))
	defer srv.Close()

	w := NewWeb(fastConfig(srv.URL), logx.Nop())
	res := w.Publish(context.Background(), Job{DestinationSlug: "g/demo", Body: "x"})
	if res.Kind != KindTransient || res.Code != CodeComposerNotFound {
		t.Fatalf("expected transient %s, got %+v", CodeComposerNotFound, res)
	}
}

func TestPublishAuthWall(t *testing.T) {
	login := `<html><body><form action="/login">
	<input type="password" name="pw"></form></body></html>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(login))
	}))
	defer srv.Close()

	w := NewWeb(fastConfig(srv.URL), logx.Nop())
	res := w.Publish(context.Background(), Job{DestinationSlug: "g/demo", Body: "x"})
	if res.Kind != KindTerminal || res.Code != CodeAuthRequired {
		t.Fatalf("expected terminal %s, got %+v", CodeAuthRequired, res)
	}
}

func TestPublishForbiddenStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	w := NewWeb(fastConfig(srv.URL), logx.Nop())
	res := w.Publish(context.Background(), Job{DestinationSlug: "g/demo", Body: "x"})
	if res.Kind != KindTerminal || res.Code != CodeAuthRequired {
		t.Fatalf("expected terminal %s, got %+v", CodeAuthRequired, res)
	}
}

func TestWaitForComposer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(composerPage))
	}))
	defer srv.Close()

	w := NewWeb(fastConfig(srv.URL), logx.Nop())
	if !w.WaitForComposer(context.Background(), "g/demo") {
		t.Fatalf("expected composer to be detected")
	}

	empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><body></body></html>`))
	}))
	defer empty.Close()

	w2 := NewWeb(fastConfig(empty.URL), logx.Nop())
	if w2.WaitForComposer(context.Background(), "g/demo") {
		t.Fatalf("expected composer detection to time out")
	}
}

func TestFindSubmitButtonHeuristics(t *testing.T) {
	cases := []struct {
		name string
		html string
		want bool
	}{
		{"word match", `<button>Publish now</button>`, true},
		{"role button", `<div role="button">Share</div>`, true},
		{"class submit", `<a class="btn-submit">Go live</a>`, false},
		{"excluded word wins", `<button>Cancel post</button>`, false},
		{"too long", `<button>` + strings.Repeat("post ", 10) + `</button>`, false},
		{"no candidates", `<span>post</span>`, false},
	}
	w := NewWeb(fastConfig("http://unused"), logx.Nop())
	for _, tc := range cases {
		doc := parseDoc(t, `<html><body>`+tc.html+`</body></html>`)
		got := w.findSubmitButton(doc) != nil
		if got != tc.want {
			t.Errorf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestRewriteGiphyURL(t *testing.T) {
	cases := []struct{ in, want string }{
		{"https://giphy.com/gifs/funny-cat-abc123", "https://media.giphy.com/media/abc123/giphy.gif"},
		{"https://media.giphy.com/media/xyz/giphy.gif", "https://media.giphy.com/media/xyz/giphy.gif"},
		{"https://example.com/cat.gif", "https://example.com/cat.gif"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := rewriteGiphyURL(tc.in); got != tc.want {
			t.Errorf("rewriteGiphyURL(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
