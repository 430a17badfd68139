package mdb

import "errors"

var (
	// ErrFileDoesNotExist is returned by Open when the database path is missing
	ErrFileDoesNotExist = errors.New("database file does not exist")

	// ErrTableDoesNotExist is returned when an export is empty and the table is not listed
	ErrTableDoesNotExist = errors.New("table does not exist")

	// ErrToolNotInstalled is returned when mdb-tools cannot be found or executed
	ErrToolNotInstalled = errors.New("mdb-tools is not installed")

	// ErrExtraction is returned when the tool ran but produced nothing usable
	ErrExtraction = errors.New("extraction failed")
)
