// Package testutil holds fixtures shared by package tests: ledgers in
// temporary directories, batch record builders and batch files on disk.
package testutil
