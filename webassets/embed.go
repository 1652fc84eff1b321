// Package webassets embeds the control panel page.
package webassets

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
)

//go:embed panel
var embeddedPanel embed.FS

// PanelDir is the embedded directory holding the control panel.
const PanelDir = "panel"

// Panel returns the control panel files rooted at index.html.
func Panel() (fs.FS, error) {
	return Subdir(PanelDir)
}

// Subdir returns the embedded directory dir, or the whole tree for ".".
func Subdir(dir string) (fs.FS, error) {
	clean := path.Clean(dir)
	if clean == "." || clean == "" {
		return embeddedPanel, nil
	}
	sub, err := fs.Sub(embeddedPanel, clean)
	if err != nil {
		return nil, fmt.Errorf("open embedded %q: %w", clean, err)
	}
	return sub, nil
}
