package validation

import "errors"

var (
	ErrMissingFile       = errors.New("media file is required")
	ErrFileTooLarge      = errors.New("file size exceeds the upload limit")
	ErrEmptyFile         = errors.New("file is empty")
	ErrInvalidFileType   = errors.New("unrecognized media type")
	ErrUnsupportedFormat = errors.New("unsupported target format")
	ErrInvalidQuality    = errors.New("invalid quality value")
)
