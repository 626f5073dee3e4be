// Package report renders completed scan reports for humans and tools.
// The CLI writes them to stdout or, atomically, to a file.
package report
