// Package crawler defines the shared vocabulary of the sitemap crawler:
// fetched responses, captured pages, the crawl session that carries counters
// and the process-local seen set, and the link filter applied to index
// children before they are traversed.
package crawler
