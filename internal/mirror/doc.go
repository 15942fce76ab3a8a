// Package mirror republishes the latest tick per subscription into
// Redis under tick:<EXCHANGE>:<SYMBOL>:<mode> keys.
package mirror
