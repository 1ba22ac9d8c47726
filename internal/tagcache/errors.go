package tagcache

import (
	"errors"
	"fmt"
)

var (
	// ErrFormat marks a tag cache file whose contents do not match the
	// expected layout: bad magic, truncated rows or strings, invalid ids.
	ErrFormat = errors.New("tagcache: invalid format")
	// ErrIO marks a failure to open or read a tag cache file.
	ErrIO = errors.New("tagcache: i/o failure")
)

func IsFormat(err error) bool { return errors.Is(err, ErrFormat) }
func IsIO(err error) bool     { return errors.Is(err, ErrIO) }

func formatErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrFormat, fmt.Sprintf(format, args...))
}

func ioError(op, path string, err error) error {
	return fmt.Errorf("%w: %s %s: %w", ErrIO, op, path, err)
}
