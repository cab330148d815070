package container

import "errors"

// isKind reports whether err wraps the given error kind.
func isKind(err, kind error) bool {
	return err != nil && errors.Is(err, kind)
}
