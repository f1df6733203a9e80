// Package storage keeps a settlement journal: one record per settled action.
//
// The journal is write-mostly and is never read back to rebuild queue state;
// Recent exists for diagnostics and Prune for retention.
package storage
