package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"

	"github.com/aluiziolira/go-books-etl/config"
)

const searchPattern = `=~^http://shop\.test/s`

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.SearchURL = "http://shop.test/s?k=books"
	cfg.Headers = map[string]string{
		"Referer":    "http://shop.test/",
		"Sec-Ch-Ua":  "Not_A Brand",
		"User-Agent": "books-etl-test",
	}
	cfg.MaxPages = 5
	cfg.MaxEmptyPages = 2
	cfg.Timeout = time.Second
	return cfg
}

func newTestScraper(t *testing.T, cfg *config.Config, responder httpmock.Responder) (*Scraper, *httpmock.MockTransport) {
	t.Helper()
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", searchPattern, responder)

	s, err := NewScraper(cfg)
	if err != nil {
		t.Fatalf("new scraper: %v", err)
	}
	s.SetTransport(transport)
	return s, transport
}

// pagesResponder serves pages[n] for page=n and an empty results page for
// anything else.
func pagesResponder(pages map[int][]string) httpmock.Responder {
	return func(req *http.Request) (*http.Response, error) {
		page, _ := strconv.Atoi(req.URL.Query().Get("page"))
		return htmlResponse(http.StatusOK, buildResultsPage(pages[page]...)), nil
	}
}

func htmlResponse(status int, body string) *http.Response {
	resp := httpmock.NewStringResponse(status, body)
	resp.Header.Set("Content-Type", "text/html")
	return resp
}

func buildResultsPage(titles ...string) string {
	var builder strings.Builder
	builder.WriteString("<html><body><div class=\"s-main-slot\">")
	for _, title := range titles {
		builder.WriteString(buildItem(title))
	}
	builder.WriteString("</div></body></html>")
	return builder.String()
}

func buildItem(title string) string {
	return fmt.Sprintf(`<div class="s-result-item"><h2><span class="a-size-medium a-text-normal">%s</span></h2>`+
		`<a class="a-size-base a-link-normal">Author of %s</a>`+
		`<span class="a-price"><span class="a-price-whole">19.</span></span>`+
		`<span class="a-icon-alt">4.5 out of 5 stars</span></div>`, title, title)
}

func TestCollectStopsAtTargetAcrossPages(t *testing.T) {
	cfg := testConfig()
	s, transport := newTestScraper(t, cfg, pagesResponder(map[int][]string{
		1: {"A", "B"},
		2: {"A", "C"},
		3: {"D", "E"},
	}))

	result, err := s.Collect(context.Background(), 3)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}

	if got := transport.GetTotalCallCount(); got != 2 {
		t.Fatalf("requests = %d, want 2", got)
	}
	if result.PageCount != 2 {
		t.Fatalf("pages = %d, want 2", result.PageCount)
	}
	if len(result.Records) != 3 {
		t.Fatalf("records = %d, want 3", len(result.Records))
	}
	for i, want := range []string{"A", "B", "C"} {
		if result.Records[i].Title != want {
			t.Fatalf("record %d title = %q, want %q", i, result.Records[i].Title, want)
		}
	}
	if result.Duplicates != 1 {
		t.Fatalf("duplicates = %d, want 1", result.Duplicates)
	}
	if result.Exhausted {
		t.Fatalf("collection should not be marked exhausted")
	}
	if result.Records[0].Author != "Author of A" || result.Records[0].Price != "19." || result.Records[0].Rating != "4.5 out of 5 stars" {
		t.Fatalf("unexpected record fields: %+v", result.Records[0])
	}
}

func TestCollectReturnsExactlyTargetFromInexhaustibleSource(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPages = 100
	responder := func(req *http.Request) (*http.Response, error) {
		page, _ := strconv.Atoi(req.URL.Query().Get("page"))
		titles := make([]string, 0, 7)
		for i := 0; i < 7; i++ {
			titles = append(titles, fmt.Sprintf("Book %d-%d", page, i))
		}
		return htmlResponse(http.StatusOK, buildResultsPage(titles...)), nil
	}

	for _, target := range []int{1, 6, 7, 8, 25} {
		t.Run(strconv.Itoa(target), func(t *testing.T) {
			s, _ := newTestScraper(t, cfg, responder)
			result, err := s.Collect(context.Background(), target)
			if err != nil {
				t.Fatalf("collect: %v", err)
			}
			if len(result.Records) != target {
				t.Fatalf("records = %d, want %d", len(result.Records), target)
			}
			wantPages := (target + 6) / 7
			if result.PageCount != wantPages {
				t.Fatalf("pages = %d, want %d", result.PageCount, wantPages)
			}
		})
	}
}

func TestCollectFetchErrorIsFatal(t *testing.T) {
	cfg := testConfig()
	s, transport := newTestScraper(t, cfg, httpmock.ResponderFromResponse(htmlResponse(http.StatusServiceUnavailable, "")))

	result, err := s.Collect(context.Background(), 3)
	if result != nil {
		t.Fatalf("expected no partial result, got %+v", result)
	}
	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected FetchError, got %v", err)
	}
	if fetchErr.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", fetchErr.StatusCode)
	}
	if got := errorTypeLabel(err); got != "server_error" {
		t.Fatalf("label = %q, want server_error", got)
	}
	if got := transport.GetTotalCallCount(); got != 1 {
		t.Fatalf("requests = %d, want 1 (no internal retry)", got)
	}
}

func TestCollectRejectsNonOKSuccessStatus(t *testing.T) {
	for _, status := range []int{http.StatusCreated, http.StatusAccepted} {
		t.Run(strconv.Itoa(status), func(t *testing.T) {
			s, transport := newTestScraper(t, testConfig(),
				httpmock.ResponderFromResponse(htmlResponse(status, buildResultsPage("A", "B", "C"))))

			result, err := s.Collect(context.Background(), 3)
			if result != nil {
				t.Fatalf("expected no result, got %+v", result)
			}
			var fetchErr *FetchError
			if !errors.As(err, &fetchErr) || fetchErr.StatusCode != status {
				t.Fatalf("expected FetchError(%d), got %v", status, err)
			}
			if got := transport.GetTotalCallCount(); got != 1 {
				t.Fatalf("requests = %d, want 1", got)
			}
		})
	}
}

func TestCollectFetchErrorOnLaterPageDiscardsRecords(t *testing.T) {
	cfg := testConfig()
	responder := func(req *http.Request) (*http.Response, error) {
		if req.URL.Query().Get("page") == "2" {
			return htmlResponse(http.StatusTooManyRequests, ""), nil
		}
		return htmlResponse(http.StatusOK, buildResultsPage("A")), nil
	}
	s, _ := newTestScraper(t, cfg, responder)

	result, err := s.Collect(context.Background(), 5)
	if result != nil {
		t.Fatalf("expected no partial result")
	}
	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) || fetchErr.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected FetchError(429), got %v", err)
	}
	if !strings.Contains(fetchErr.URL, "page=2") {
		t.Fatalf("error url = %q, want page=2", fetchErr.URL)
	}
}

func TestCollectTransportFailure(t *testing.T) {
	cfg := testConfig()
	s, _ := newTestScraper(t, cfg, httpmock.NewErrorResponder(&net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}))

	_, err := s.Collect(context.Background(), 1)
	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected FetchError, got %v", err)
	}
	if fetchErr.StatusCode != 0 {
		t.Fatalf("status = %d, want 0", fetchErr.StatusCode)
	}
}

func TestCollectStopsWhenSourceExhausted(t *testing.T) {
	cfg := testConfig()
	cfg.MaxEmptyPages = 2
	s, transport := newTestScraper(t, cfg, pagesResponder(map[int][]string{
		1: {"A", "B"},
		2: {"A"},
	}))

	result, err := s.Collect(context.Background(), 10)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if !result.Exhausted {
		t.Fatalf("expected exhausted collection")
	}
	if len(result.Records) != 2 {
		t.Fatalf("records = %d, want 2", len(result.Records))
	}
	if got := transport.GetTotalCallCount(); got != 3 {
		t.Fatalf("requests = %d, want 3", got)
	}
}

func TestCollectStopsAtMaxPages(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPages = 3
	cfg.MaxEmptyPages = 10
	responder := func(req *http.Request) (*http.Response, error) {
		return htmlResponse(http.StatusOK, buildResultsPage("Book page "+req.URL.Query().Get("page"))), nil
	}
	s, transport := newTestScraper(t, cfg, responder)

	result, err := s.Collect(context.Background(), 10)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if !result.Exhausted || len(result.Records) != 3 {
		t.Fatalf("exhausted=%v records=%d, want true/3", result.Exhausted, len(result.Records))
	}
	if got := transport.GetTotalCallCount(); got != 3 {
		t.Fatalf("requests = %d, want 3", got)
	}
}

func TestCollectSkipsIncompleteItems(t *testing.T) {
	cfg := testConfig()
	page := "<html><body>" +
		buildItem("Complete") +
		`<div class="s-result-item"><span class="a-text-normal">No author</span><span class="a-price-whole">5.</span><span class="a-icon-alt">3 stars</span></div>` +
		buildItem("Also complete") +
		"</body></html>"
	s, _ := newTestScraper(t, cfg, httpmock.ResponderFromResponse(htmlResponse(http.StatusOK, page)))

	result, err := s.Collect(context.Background(), 2)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if result.SkippedItems != 1 {
		t.Fatalf("skipped = %d, want 1", result.SkippedItems)
	}
	if len(result.Records) != 2 || result.Records[1].Title != "Also complete" {
		t.Fatalf("unexpected records: %+v", result.Records)
	}
}

func TestCollectSendsFixedHeaders(t *testing.T) {
	cfg := testConfig()
	var seen http.Header
	responder := func(req *http.Request) (*http.Response, error) {
		seen = req.Header.Clone()
		return htmlResponse(http.StatusOK, buildResultsPage("A")), nil
	}
	s, _ := newTestScraper(t, cfg, responder)

	// Mutating the config after construction must not leak into requests.
	cfg.Headers["Referer"] = "http://elsewhere.test/"

	if _, err := s.Collect(context.Background(), 1); err != nil {
		t.Fatalf("collect: %v", err)
	}
	if got := seen.Get("Referer"); got != "http://shop.test/" {
		t.Fatalf("Referer = %q", got)
	}
	if got := seen.Get("Sec-Ch-Ua"); got != "Not_A Brand" {
		t.Fatalf("Sec-Ch-Ua = %q", got)
	}
	if got := seen.Get("User-Agent"); got != "books-etl-test" {
		t.Fatalf("User-Agent = %q", got)
	}
}

func TestCollectHonoursCancelledContext(t *testing.T) {
	cfg := testConfig()
	s, transport := newTestScraper(t, cfg, pagesResponder(map[int][]string{1: {"A"}}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.Collect(ctx, 1); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if got := transport.GetTotalCallCount(); got != 0 {
		t.Fatalf("requests = %d, want 0", got)
	}
}

func TestCollectRejectsNonPositiveTarget(t *testing.T) {
	s, _ := newTestScraper(t, testConfig(), pagesResponder(nil))
	if _, err := s.Collect(context.Background(), 0); err == nil {
		t.Fatalf("expected error for zero target")
	}
}

func TestPageURL(t *testing.T) {
	s, err := NewScraper(testConfig())
	if err != nil {
		t.Fatalf("new scraper: %v", err)
	}
	if got, want := s.PageURL(4), "http://shop.test/s?k=books&page=4"; got != want {
		t.Fatalf("PageURL(4) = %q, want %q", got, want)
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		statusCode int
		expected   string
	}{
		{name: "nil", err: nil, statusCode: 0, expected: "unknown"},
		{name: "context timeout", err: context.DeadlineExceeded, statusCode: 0, expected: "timeout"},
		{name: "net timeout", err: &net.DNSError{IsTimeout: true}, statusCode: 0, expected: "timeout"},
		{name: "connection", err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, statusCode: 0, expected: "connection"},
		{name: "forbidden", err: nil, statusCode: http.StatusForbidden, expected: "forbidden"},
		{name: "not found", err: nil, statusCode: http.StatusNotFound, expected: "not_found"},
		{name: "rate limited", err: nil, statusCode: http.StatusTooManyRequests, expected: "rate_limited"},
		{name: "unavailable", err: errors.New("Service Unavailable"), statusCode: http.StatusServiceUnavailable, expected: "server_error"},
		{name: "other", err: errors.New("some other error"), statusCode: 0, expected: "other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errorTypeLabel(classifyError(tt.err, tt.statusCode)); got != tt.expected {
				t.Fatalf("classifyError(%v, %d) = %q, want %q", tt.err, tt.statusCode, got, tt.expected)
			}
		})
	}
}
