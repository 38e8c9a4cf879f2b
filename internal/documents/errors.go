package documents

import "errors"

var (
	// ErrNoFiles is returned when a submission carries no documents.
	ErrNoFiles = errors.New("at least one document is required")
	// ErrUnsupportedFile is returned for extensions other than pdf, docx and doc.
	ErrUnsupportedFile = errors.New("unsupported file type")
	// ErrEmptyFile is returned for zero-byte uploads.
	ErrEmptyFile = errors.New("file is empty")
	// ErrTooLarge is returned when a file exceeds the upload limit.
	ErrTooLarge = errors.New("file too large")
	// ErrCorruptDocument is returned when a file does not match its format.
	ErrCorruptDocument = errors.New("document could not be opened")
)
