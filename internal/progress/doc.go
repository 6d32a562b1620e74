// Package progress carries crawl progress events from the traversal engine to
// pluggable sinks. Emit is safe from any crawl branch and never blocks; a
// background goroutine batches events and delivers them to every sink.
package progress
