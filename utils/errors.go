package utils

import "errors"

// ErrorRecordNotFound is returned by the Fetch* helpers when a lookup
// finds no matching row.
var ErrorRecordNotFound = errors.New("record not found")
