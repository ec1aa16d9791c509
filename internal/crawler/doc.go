// Package crawler implements the site graph engine: per-seed breadth-first
// walkers that share a bounded pool of fetch slots, the scope filter that
// keeps each walker on its seed's host, and the single-writer builder that
// turns discovered references into nodes and edges.
//
// Data flows one way. Walkers send Discovery values into a buffered channel;
// the builder goroutine is the only reader and the only code that mutates the
// node and edge collections. Engine.Crawl closes the channel once every walker
// has returned and reads the graph after the builder has drained it.
package crawler
