// Package extract turns fetched bodies into crawl inputs: child URLs from
// sitemap indexes and title/content pairs from documents.
package extract
