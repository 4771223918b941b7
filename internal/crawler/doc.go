// Package crawler implements the paginated listing crawl: the controller that walks a
// category page by page, the retry policy that classifies fetch failures, and the
// interfaces the fetcher, admission governor, publish channel and checkpoint store
// plug into.
package crawler
