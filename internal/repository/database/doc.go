// Package database persists the generated update database.
//
// FileRepository writes the document as indented JSON and only replaces the
// file when the new document differs from the saved one. Differences are
// judged on the parsed JSON structure, optionally ignoring the timestamp.
package database
