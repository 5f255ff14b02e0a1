// Package chunkdb stores chunk records in SQLite.
package chunkdb
