package webassets

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
)

//go:embed public
var embeddedDist embed.FS

// Subdir returns the embedded tree rooted at dir.
func Subdir(dir string) (fs.FS, error) {
	cleanDir := path.Clean(dir)
	if cleanDir == "." || cleanDir == "" {
		return embeddedDist, nil
	}

	sub, err := fs.Sub(embeddedDist, cleanDir)
	if err != nil {
		return nil, fmt.Errorf("open embedded subdir %q: %w", cleanDir, err)
	}
	return sub, nil
}
