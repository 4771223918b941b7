package catalog

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

const searchQuery = `query SearchProductQuery($params: String) {
  CategoryProducts: searchProduct(params: $params) {
    count
    data: products {
      id
      url
      imageUrl: image_url
      imageUrlLarge: image_url_700
      catId: category_id
      countReview: count_review
      discountPercentage: discount_percentage
      preorder: is_preorder
      name
      price
      priceInt: price_int
      original_price
      rating
      wishlist
      shop {
        id
        url
        name
        goldmerchant: is_power_badge
        official: is_official
        reputation
        location
        __typename
      }
      __typename
    }
    __typename
  }
}`

type graphQLRequest struct {
	OperationName string            `json:"operationName"`
	Variables     map[string]string `json:"variables"`
	Query         string            `json:"query"`
}

// searchParams renders the params string the search operation expects. Page is sent twice.
func searchParams(category string, page, start, rows int) string {
	return fmt.Sprintf(
		"page=%d&ob=&identifier=elektronik_elektronik-rumah-tangga_%s&sc=3964&user_id=0&rows=%d&start=%d"+
			"&source=directory&device=desktop&page=%d&related=true&st=product&safe_search=false",
		page, url.QueryEscape(category), rows, start, page,
	)
}

// requestBody builds the batched GraphQL body for one page.
func requestBody(category string, page, start, rows int) ([]byte, error) {
	body, err := json.Marshal([]graphQLRequest{{
		OperationName: "SearchProductQuery",
		Variables:     map[string]string{"params": searchParams(category, page, start, rows)},
		Query:         searchQuery,
	}})
	if err != nil {
		return nil, fmt.Errorf("encode search query: %w", err)
	}
	return body, nil
}

// requestHeaders mirrors what the storefront sends for a directory listing page.
func requestHeaders(category string, page int, userAgent string) http.Header {
	h := http.Header{}
	h.Set("Referer", fmt.Sprintf("https://www.tokopedia.com/p/elektronik/elektronik-rumah-tangga/%s?page=%d", url.PathEscape(category), page))
	h.Set("Content-Type", "application/json")
	h.Set("Accept", "*/*")
	h.Set("User-Agent", userAgent)
	h.Set("X-Source", "tokopedia-lite")
	h.Set("X-Tkpd-Lite-Service", "zeus")
	h.Set("X-Device", "desktop-0.0")
	h.Set("X-Price-Center", "true")
	h.Set("Tkpd-UserId", "0")
	h.Set("Sec-Ch-Ua-Mobile", "?1")
	h.Set("Sec-Ch-Ua-Platform", `"Android"`)
	h.Set("DNT", "1")
	return h
}
