// Package store defines interfaces for persistence dependencies (checkpoints,
// discovered projects and crawl runs). Implementations live in other packages;
// this package must not import database drivers or concrete clients.
package store
