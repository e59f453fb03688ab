package store

import "errors"

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrBlobNotFound     = errors.New("blob not found")
	ErrBlobCorrupted    = errors.New("blob content does not match its digest")
)
