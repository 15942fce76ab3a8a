// Package model defines the core domain types shared across components:
// subscription keys, market-data modes, and tick payloads.
package model
