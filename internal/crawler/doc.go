// Package crawler walks one seed's follower pages to exhaustion. It drives a
// curator.PageFetcher page by page, applies linear backoff on rate limits, and
// hands every fetched page to a caller-supplied handler so records can be
// persisted incrementally.
package crawler
