package winaqms

import "codeberg.org/mutker/datasyncd/internal/errors"

const (
	// Parse Errors
	ErrFileUnreadable = errors.ErrorCode("wad_file_unreadable")
	ErrMissingHeader  = errors.ErrorCode("wad_missing_header")
)
