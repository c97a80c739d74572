// Package crawler holds the domain vocabulary of the announcement crawler:
// regions, catalog items, project details, checkpoints, discovered projects,
// crawl runs and the error kinds every subsystem reports with.
package crawler
