// Package catalog fetches listing pages from the catalog search endpoint using gocolly.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-harvester/internal/crawler"
)

// Defaults applied when Config fields are left zero.
const (
	DefaultEndpoint  = "https://gql.tokopedia.com/graphql/SearchProductQuery"
	DefaultUserAgent = "Mozilla/5.0 (Linux; Android 6.0; Nexus 5 Build/MRA58N) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) Chrome/131.0.0.0 Mobile Safari/537.36"
	DefaultTimeout = 15 * time.Second
)

// Config controls collector behavior.
type Config struct {
	Endpoint  string
	UserAgent string
	Timeout   time.Duration
}

// Fetcher implements crawler.Fetcher on top of a colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
	now           func() time.Time
	logger        *zap.Logger
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

type searchResponse []struct {
	Data struct {
		CategoryProducts *struct {
			Count int              `json:"count"`
			Data  []crawler.Record `json:"data"`
		} `json:"CategoryProducts"`
	} `json:"data"`
}

// New builds a Fetcher.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	// A single JSON endpoint is queried, never discovered pages.
	c.IgnoreRobotsTxt = true
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(cfg.Timeout)

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
		now:           time.Now,
		logger:        logger.Named("fetcher"),
	}
}

// Fetch posts one search query and decodes the returned page.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchPage, error) {
	body, err := requestBody(request.Category, request.Page, request.Start, request.Rows)
	if err != nil {
		return crawler.FetchPage{}, err
	}

	var (
		raw      []byte
		fetchErr error
	)
	collector := f.baseCollector.Clone()
	collector.Context = ctx
	f.configureCollectorHooks(collector, request, &raw, &fetchErr)

	if err := f.runCollector(ctx, collector, body, &fetchErr); err != nil {
		return crawler.FetchPage{}, err
	}

	page, err := decodePage(raw)
	if err != nil {
		return crawler.FetchPage{}, err
	}
	f.logger.Debug("decoded page",
		zap.Int("page", request.Page),
		zap.Int("start", request.Start),
		zap.Int("records", len(page.Records)),
		zap.Int("total", page.Total),
	)
	return page, nil
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	request crawler.FetchRequest,
	raw *[]byte,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		for key, values := range requestHeaders(request.Category, request.Page, f.cfg.UserAgent) {
			for _, v := range values {
				r.Headers.Set(key, v)
			}
		}
	})

	hooks.OnResponse(func(r *colly.Response) {
		*raw = append([]byte(nil), r.Body...)
	})

	hooks.OnError(func(r *colly.Response, err error) {
		*fetchErr = f.classifyResponse(r, err)
	})
}

// classifyResponse turns colly's error callback into the typed errors the retry policy
// understands. Transport errors pass through untouched.
func (f *Fetcher) classifyResponse(r *colly.Response, err error) error {
	if r == nil || r.StatusCode == 0 {
		return err
	}
	if r.StatusCode == http.StatusTooManyRequests {
		rle := &crawler.RateLimitError{}
		if r.Headers != nil {
			rle.RetryAfter, rle.HasHint = crawler.ParseRetryAfter(r.Headers.Get("Retry-After"), f.now())
		}
		return rle
	}
	if r.StatusCode >= http.StatusBadRequest || r.StatusCode < http.StatusOK {
		return &crawler.StatusError{Code: r.StatusCode}
	}
	return err
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, body []byte, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.PostRaw(f.cfg.Endpoint, body)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("catalog fetch canceled: %w", ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return fmt.Errorf("catalog request failed: %w", *fetchErr)
		}
		if err != nil {
			return fmt.Errorf("catalog request failed: %w", err)
		}
		return nil
	}
}

func decodePage(raw []byte) (crawler.FetchPage, error) {
	var resp searchResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return crawler.FetchPage{}, fmt.Errorf("%w: %v", crawler.ErrMalformedResponse, err)
	}
	if len(resp) == 0 || resp[0].Data.CategoryProducts == nil {
		snippet := strings.TrimSpace(string(raw))
		if len(snippet) > 120 {
			snippet = snippet[:120]
		}
		return crawler.FetchPage{}, fmt.Errorf("%w: missing CategoryProducts in %q", crawler.ErrMalformedResponse, snippet)
	}
	products := resp[0].Data.CategoryProducts
	return crawler.FetchPage{Records: products.Data, Total: products.Count}, nil
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
	}
}

var _ crawler.Fetcher = (*Fetcher)(nil)
