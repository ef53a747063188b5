package density

import "errors"

var (
	// ErrFormat marks a malformed source map or packed file.
	ErrFormat = errors.New("format error")

	// ErrUnsupportedValueType is returned for sample types the packer cannot store.
	ErrUnsupportedValueType = errors.New("unsupported value type")

	// ErrHeaderTooLarge is returned when a packed file declares a header that cannot fit
	// in the file.
	ErrHeaderTooLarge = errors.New("declared header size exceeds file size")

	// ErrUnsupportedVersion is returned for packed files written by an incompatible
	// format version.
	ErrUnsupportedVersion = errors.New("unsupported format version")

	// ErrLimit marks a query that exceeds a configured size or block-count limit.
	ErrLimit = errors.New("query limit exceeded")
)
