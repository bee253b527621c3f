package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gocolly/colly/v2"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aluiziolira/go-books-etl/config"
	"github.com/aluiziolira/go-books-etl/models"
	"github.com/aluiziolira/go-books-etl/parser"
)

// Scraper walks the paginated search results one page at a time.
type Scraper struct {
	searchURL     *url.URL
	headers       http.Header
	maxPages      int
	maxEmptyPages int
	collector     *colly.Collector
	Metrics       *Metrics
}

// NewScraper builds a scraper instance configured from cfg. The endpoint and
// header set are copied, so later changes to cfg do not affect it.
func NewScraper(cfg *config.Config) (*Scraper, error) {
	parsed, err := url.Parse(cfg.SearchURL)
	if err != nil {
		return nil, fmt.Errorf("parse search url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("search url must include a host")
	}

	headers := make(http.Header, len(cfg.Headers))
	for key, value := range cfg.Headers {
		headers.Set(key, value)
	}

	collector := colly.NewCollector(
		colly.AllowedDomains(parsed.Hostname()),
		colly.AllowURLRevisit(),
		colly.UserAgent(headers.Get("User-Agent")),
	)
	collector.SetRequestTimeout(cfg.Timeout)
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})

	return &Scraper{
		searchURL:     parsed,
		headers:       headers,
		maxPages:      cfg.MaxPages,
		maxEmptyPages: cfg.MaxEmptyPages,
		collector:     collector,
		Metrics:       NewMetrics(),
	}, nil
}

// SetTransport replaces the HTTP transport used for page requests.
func (s *Scraper) SetTransport(rt http.RoundTripper) {
	s.collector.WithTransport(rt)
}

// PageURL returns the address of the given results page.
func (s *Scraper) PageURL(page int) string {
	u := *s.searchURL
	query := u.Query()
	query.Set("page", strconv.Itoa(page))
	u.RawQuery = query.Encode()
	return u.String()
}

// Collect fetches pages 1, 2, ... until target records with distinct titles
// are held, or until MaxPages pages were fetched, or MaxEmptyPages pages in a
// row added nothing. Any failed fetch, including a response other than
// 200 OK, aborts the collection with a *FetchError and no records.
func (s *Scraper) Collect(ctx context.Context, target int) (*models.Collection, error) {
	if target <= 0 {
		return nil, fmt.Errorf("target count must be positive, got %d", target)
	}

	// Only accepted titles enter the set and at most target are accepted, so
	// nothing is ever evicted.
	seen, err := lru.New[string, struct{}](target)
	if err != nil {
		return nil, fmt.Errorf("create title set: %w", err)
	}

	result := &models.Collection{
		Records:   make([]models.Record, 0, target),
		StartTime: time.Now(),
	}
	var (
		pageAdded  int
		lastStatus int
	)

	c := s.collector.Clone()
	c.OnRequest(func(r *colly.Request) {
		for key := range s.headers {
			r.Headers.Set(key, s.headers.Get(key))
		}
		r.Ctx.Put("start", time.Now())
		s.Metrics.IncRequest("started")
	})
	c.OnResponse(func(r *colly.Response) {
		lastStatus = r.StatusCode
		if start, ok := r.Request.Ctx.GetAny("start").(time.Time); ok {
			s.Metrics.ObserveDuration(time.Since(start))
		}
	})
	c.OnError(func(r *colly.Response, err error) {
		if r != nil {
			lastStatus = r.StatusCode
		}
	})
	c.OnHTML(parser.ItemSelector, func(e *colly.HTMLElement) {
		if e.Response.StatusCode != http.StatusOK {
			return
		}
		record, ok := parser.ParseItem(e.DOM)
		if !ok {
			result.SkippedItems++
			s.Metrics.IncSkipped()
			return
		}
		if len(result.Records) >= target {
			return
		}
		if seen.Contains(record.Title) {
			result.Duplicates++
			s.Metrics.IncDuplicates()
			return
		}
		seen.Add(record.Title, struct{}{})
		result.Records = append(result.Records, record)
		pageAdded++
		s.Metrics.IncItems()
	})

	emptyStreak := 0
	for page := 1; len(result.Records) < target; page++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if page > s.maxPages {
			slog.Warn("page limit reached before target count",
				slog.Int("max_pages", s.maxPages),
				slog.Int("collected", len(result.Records)),
				slog.Int("target", target),
			)
			result.Exhausted = true
			break
		}

		pageAdded, lastStatus = 0, 0
		pageURL := s.PageURL(page)
		result.RequestCount++
		err := c.Visit(pageURL)
		if err == nil && lastStatus != http.StatusOK {
			err = fmt.Errorf("unexpected status %d", lastStatus)
		}
		if err != nil {
			fetchErr := &FetchError{
				URL:        pageURL,
				StatusCode: lastStatus,
				Err:        classifyError(err, lastStatus),
			}
			category := errorTypeLabel(fetchErr)
			s.Metrics.IncError(category)
			slog.Error("page fetch failed",
				slog.String("url", pageURL),
				slog.Int("status", lastStatus),
				slog.String("category", category),
				slog.Any("error", err),
			)
			return nil, fetchErr
		}
		result.PageCount++
		s.Metrics.IncPages()

		slog.Debug("page collected",
			slog.Int("page", page),
			slog.Int("added", pageAdded),
			slog.Int("collected", len(result.Records)),
		)

		if pageAdded > 0 {
			emptyStreak = 0
			continue
		}
		emptyStreak++
		if emptyStreak >= s.maxEmptyPages {
			slog.Warn("source exhausted before target count",
				slog.Int("empty_pages", emptyStreak),
				slog.Int("collected", len(result.Records)),
				slog.Int("target", target),
			)
			result.Exhausted = true
			break
		}
	}

	result.EndTime = time.Now()
	return result, nil
}

func classifyError(err error, statusCode int) error {
	if err == nil && statusCode == 0 {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout{Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrConnection{Err: err}
	}

	if statusCode != 0 {
		wrapped := err
		if wrapped == nil {
			wrapped = fmt.Errorf("http status %d", statusCode)
		}
		switch {
		case statusCode == http.StatusForbidden:
			return ErrForbidden{Err: wrapped}
		case statusCode == http.StatusNotFound:
			return ErrNotFound{Err: wrapped}
		case statusCode == http.StatusTooManyRequests:
			return ErrRateLimited{Err: wrapped}
		case statusCode >= http.StatusInternalServerError:
			return ErrServer{Err: wrapped}
		}
	}

	return err
}
