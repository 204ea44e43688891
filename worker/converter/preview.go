package converter

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"
)

// ExtractPoster grabs a frame one second into the video and writes a
// width-bounded JPEG poster to posterPath. Height follows the source
// aspect ratio.
func (c *Converter) ExtractPoster(ctx context.Context, inputPath, posterPath string, width int) error {
	if width <= 0 {
		width = 480
	}

	frameDir, err := os.MkdirTemp(filepath.Dir(posterPath), "poster-")
	if err != nil {
		return fmt.Errorf("create frame dir: %w", err)
	}
	defer os.RemoveAll(frameDir)

	framePath := filepath.Join(frameDir, "frame.png")

	cmd := exec.CommandContext(ctx, c.ffmpegPath,
		"-y",
		"-ss", "1",
		"-i", inputPath,
		"-frames:v", "1",
		framePath,
	)
	var stderr strings.Builder
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("extract frame: %w: %s", err, truncate(stderr.String(), 1024))
	}

	if err := shrinkFrame(framePath, posterPath, width); err != nil {
		return err
	}

	c.logger.Info("Poster extracted",
		zap.String("input", inputPath),
		zap.String("poster", posterPath),
		zap.Int("width", width),
	)
	return nil
}

// shrinkFrame downscales a captured frame to the given width and saves
// it as a JPEG. Frames narrower than the target are left at their size.
func shrinkFrame(framePath, posterPath string, width int) error {
	src, err := imaging.Open(framePath)
	if err != nil {
		return fmt.Errorf("open frame: %w", err)
	}

	if src.Bounds().Dx() > width {
		src = imaging.Resize(src, width, 0, imaging.Lanczos)
	}

	if err := imaging.Save(src, posterPath, imaging.JPEGQuality(85)); err != nil {
		return fmt.Errorf("save poster: %w", err)
	}
	return nil
}
