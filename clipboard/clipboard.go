// Package clipboard copies transcripts and image references to the system
// clipboard.
package clipboard

import (
	"errors"
	"strings"

	cb "github.com/atotto/clipboard"
)

// ErrUnsupported means no clipboard utility (xclip, xsel, wl-copy) was found.
var ErrUnsupported = errors.New("clipboard not available on this system")

var errEmpty = errors.New("nothing to copy")

func Read() (string, error) {
	if cb.Unsupported {
		return "", ErrUnsupported
	}
	return cb.ReadAll()
}

func Copy(text string) error {
	if strings.TrimSpace(text) == "" {
		return errEmpty
	}
	if cb.Unsupported {
		return ErrUnsupported
	}
	return cb.WriteAll(text)
}
