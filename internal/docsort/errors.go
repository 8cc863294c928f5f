package docsort

import "errors"

var (
	// ErrProjectNotFound is returned when a project id is unknown.
	ErrProjectNotFound = errors.New("project not found")
	// ErrDocumentNotFound is returned when a document id is unknown.
	ErrDocumentNotFound = errors.New("document not found")
	// ErrInvalidOperation is returned for unsupported job operations.
	ErrInvalidOperation = errors.New("invalid operation")
	// ErrInvalidCategory is returned for category ids outside the catalogue.
	ErrInvalidCategory = errors.New("invalid category")
	// ErrQueueClosed is returned by queues after shutdown.
	ErrQueueClosed = errors.New("queue closed")
	// ErrObjectNotFound is returned by blob stores for missing keys.
	ErrObjectNotFound = errors.New("object not found")
	// ErrNothingToMerge is returned by a Merger when no document can be merged.
	ErrNothingToMerge = errors.New("nothing to merge")
)
