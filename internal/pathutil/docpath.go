// Package pathutil validates user supplied document paths before they reach
// the backend or a URL.
package pathutil

import (
	"strings"

	"github.com/keithlinneman/tapcommand-web/internal/xerrors"
)

// ErrInvalidPath matches the backend's 400 "Invalid file path".
var ErrInvalidPath = xerrors.New("invalid file path")

const maxDocPathLen = 512

// CleanDocPath validates a docs-relative path such as "setup/wifi.md".
// It rejects what the backend rejects (any ".." and a leading "/") plus
// backslashes, control bytes and empty segments, so a value that passes can
// be placed in a URL path unchanged.
func CleanDocPath(p string) (string, error) {
	if p == "" || len(p) > maxDocPathLen {
		return "", ErrInvalidPath
	}
	if strings.HasPrefix(p, "/") || strings.Contains(p, "..") || strings.Contains(p, `\`) {
		return "", ErrInvalidPath
	}
	for i := 0; i < len(p); i++ {
		if p[i] < 0x20 || p[i] == 0x7f {
			return "", ErrInvalidPath
		}
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == "" || seg == "." {
			return "", ErrInvalidPath
		}
	}
	return p, nil
}
