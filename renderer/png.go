package renderer

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
)

// WritePNG encodes the rendered image and writes it to path, creating
// parent directories as needed. Nothing is written until the grid has been
// fully rendered, so a failed run never leaves a partial artifact behind.
func WritePNG(img image.Image, path string) error {
	if img == nil {
		return fmt.Errorf("write png: nil image")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("write png: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("write png: %w", err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("write png: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("write png: %w", err)
	}
	return nil
}
