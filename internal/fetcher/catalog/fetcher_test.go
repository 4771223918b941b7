package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-harvester/internal/crawler"
)

const pageBody = `[{"data":{"CategoryProducts":{"count":600,"data":[
 {"id":55,"name":"Mesin Cuci 7kg","url":"https://www.tokopedia.com/toko/55","imageUrl":"https://images.example/55.jpg",
  "catId":3964,"countReview":12,"discountPercentage":10,"preorder":false,"price":"Rp2.499.000","priceInt":2499000,
  "original_price":"Rp2.799.000","rating":4.5,"wishlist":false,"labels":[],
  "shop":{"id":9,"url":"https://www.tokopedia.com/toko","name":"Toko","goldmerchant":true,"official":false,"reputation":"gold","location":"Bandung"}},
 {"id":56,"name":"Pengering","price":"Rp900.000","shop":{"name":"Lain"}}
]}}}]`

type capturedRequest struct {
	method  string
	headers http.Header
	body    []byte
}

func newServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) (*httptest.Server, *[]capturedRequest) {
	t.Helper()
	var (
		mu   sync.Mutex
		seen []capturedRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		seen = append(seen, capturedRequest{method: r.Method, headers: r.Header.Clone(), body: body})
		mu.Unlock()
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, &seen
}

func request() crawler.FetchRequest {
	return crawler.FetchRequest{Category: "mesin-cuci", Page: 3, Start: 121, Rows: 60}
}

func TestFetchDecodesPage(t *testing.T) {
	t.Parallel()

	srv, seen := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, pageBody)
	})
	f := New(Config{Endpoint: srv.URL, UserAgent: "harvester-test"}, nil)

	page, err := f.Fetch(context.Background(), request())
	require.NoError(t, err)
	require.Equal(t, 600, page.Total)
	require.Len(t, page.Records, 2)
	assert.Equal(t, int64(55), page.Records[0].ID)
	assert.Equal(t, "Rp2.799.000", page.Records[0].OriginalPrice)
	assert.True(t, page.Records[0].Shop.GoldMerchant)
	assert.Equal(t, "Bandung", page.Records[0].Shop.Location)
	assert.Equal(t, "Lain", page.Records[1].Shop.Name)

	require.Len(t, *seen, 1)
	got := (*seen)[0]
	assert.Equal(t, http.MethodPost, got.method)
	assert.Equal(t, "application/json", got.headers.Get("Content-Type"))
	assert.Equal(t, "harvester-test", got.headers.Get("User-Agent"))
	assert.Equal(t, "zeus", got.headers.Get("X-Tkpd-Lite-Service"))
	assert.Contains(t, got.headers.Get("Referer"), "/mesin-cuci?page=3")

	var sent []graphQLRequest
	require.NoError(t, json.Unmarshal(got.body, &sent))
	require.Len(t, sent, 1)
	assert.Equal(t, "SearchProductQuery", sent[0].OperationName)
	params := sent[0].Variables["params"]
	assert.True(t, strings.HasPrefix(params, "page=3&ob=&identifier=elektronik_elektronik-rumah-tangga_mesin-cuci&sc=3964"), params)
	assert.Contains(t, params, "&rows=60&start=121&")
	assert.True(t, strings.HasSuffix(params, "&page=3&related=true&st=product&safe_search=false"), params)
}

func TestFetchRevisitsSameEndpoint(t *testing.T) {
	t.Parallel()

	srv, seen := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, pageBody)
	})
	f := New(Config{Endpoint: srv.URL}, nil)

	for i := 0; i < 3; i++ {
		_, err := f.Fetch(context.Background(), request())
		require.NoError(t, err)
	}
	assert.Len(t, *seen, 3)
}

func TestFetchRateLimited(t *testing.T) {
	t.Parallel()

	srv, _ := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	})
	f := New(Config{Endpoint: srv.URL}, nil)

	_, err := f.Fetch(context.Background(), request())
	var rle *crawler.RateLimitError
	require.ErrorAs(t, err, &rle)
	assert.True(t, rle.HasHint)
	assert.Equal(t, 7*time.Second, rle.RetryAfter)
	assert.Equal(t, crawler.CategoryRateLimited, crawler.Classify(err))
}

func TestFetchRateLimitedWithoutHint(t *testing.T) {
	t.Parallel()

	srv, _ := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	f := New(Config{Endpoint: srv.URL}, nil)

	_, err := f.Fetch(context.Background(), request())
	var rle *crawler.RateLimitError
	require.ErrorAs(t, err, &rle)
	assert.False(t, rle.HasHint)
}

func TestFetchServerError(t *testing.T) {
	t.Parallel()

	srv, _ := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	f := New(Config{Endpoint: srv.URL}, nil)

	_, err := f.Fetch(context.Background(), request())
	var se *crawler.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadGateway, se.Code)
	assert.Equal(t, crawler.CategoryUnclassified, crawler.Classify(err))
}

func TestFetchMalformedBody(t *testing.T) {
	t.Parallel()

	for name, body := range map[string]string{
		"not json":      "<html>blocked</html>",
		"empty array":   "[]",
		"missing block": `[{"data":{}}]`,
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			srv, _ := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
				_, _ = io.WriteString(w, body)
			})
			f := New(Config{Endpoint: srv.URL}, nil)

			_, err := f.Fetch(context.Background(), request())
			require.ErrorIs(t, err, crawler.ErrMalformedResponse)
			assert.Equal(t, crawler.CategoryUnclassified, crawler.Classify(err))
		})
	}
}

func TestFetchConnectionRefusedIsTransient(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	endpoint := srv.URL
	srv.Close()

	f := New(Config{Endpoint: endpoint}, nil)
	_, err := f.Fetch(context.Background(), request())
	require.Error(t, err)
	assert.Equal(t, crawler.CategoryTransient, crawler.Classify(err))
}

func TestFetchHonorsCancellation(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv, _ := newServer(t, func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	})
	t.Cleanup(func() { close(release) })

	f := New(Config{Endpoint: srv.URL}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := f.Fetch(ctx, request())
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), err.Error())
}

func TestFetchRequestTimeoutIsTransient(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv, _ := newServer(t, func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	})
	t.Cleanup(func() { close(release) })

	f := New(Config{Endpoint: srv.URL, Timeout: 100 * time.Millisecond}, nil)
	_, err := f.Fetch(context.Background(), request())
	require.Error(t, err)
	assert.Equal(t, crawler.CategoryTransient, crawler.Classify(err), err.Error())
}

func TestClassifyResponseFallsThrough(t *testing.T) {
	t.Parallel()

	f := New(Config{}, nil)
	boom := errors.New("boom")
	assert.Same(t, boom, f.classifyResponse(nil, boom))
	assert.Same(t, boom, f.classifyResponse(&colly.Response{}, boom))
	assert.Same(t, boom, f.classifyResponse(&colly.Response{StatusCode: http.StatusNoContent}, boom))
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{UserAgent: "hooks"}, nil)
	var raw []byte
	var fetchErr error
	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, request(), &raw, &fetchErr)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	collyReq := &colly.Request{Headers: &http.Header{"Content-Type": {"application/x-www-form-urlencoded"}}}
	hooks.onRequest(collyReq)
	assert.Equal(t, "application/json", collyReq.Headers.Get("Content-Type"))
	assert.Equal(t, "hooks", collyReq.Headers.Get("User-Agent"))

	hooks.onResponse(&colly.Response{Body: []byte("body")})
	assert.Equal(t, "body", string(raw))

	hooks.onError(&colly.Response{StatusCode: http.StatusTooManyRequests, Headers: &http.Header{}}, errors.New("Too Many Requests"))
	var rle *crawler.RateLimitError
	assert.ErrorAs(t, fetchErr, &rle)
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback)   { s.onRequest = cb }
func (s *stubHooks) OnResponse(cb colly.ResponseCallback) { s.onResponse = cb }
func (s *stubHooks) OnError(cb colly.ErrorCallback)       { s.onError = cb }
