// Package store persists users, instruments, orders and the audit trail in a
// single SQLite file. Schema changes ship as embedded migrations applied at
// most once per file when the store is opened.
package store
