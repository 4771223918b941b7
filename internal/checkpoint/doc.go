// Package checkpoint holds the durable pagination progress backends used by the crawl
// controller. Every backend keeps one overwrite-only record per crawl target and falls
// back to the default checkpoint when its state is missing or unreadable.
package checkpoint
