// Package cache is the concurrent last-value store for market data.
// The inbound dispatcher is the single logical writer; arbitrarily many
// pollers read. Entries are whole-value swaps under a read-write lock,
// so a reader never observes a partially written payload.
package cache
