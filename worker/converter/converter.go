package converter

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// Event is a single progress observation taken from the codec's
// machine-readable status stream.
type Event struct {
	Percent    int
	ETASeconds int
}

// Request describes one transcode run.
type Request struct {
	InputPath  string
	OutputPath string
	Format     string
	Quality    string

	// OnProgress receives throttled progress events. May be nil.
	OnProgress func(Event)
}

type Converter struct {
	ffmpegPath  string
	ffprobePath string
	logger      *zap.Logger
}

func NewConverter(ffmpegPath, ffprobePath string, logger *zap.Logger) *Converter {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &Converter{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath, logger: logger}
}

// Convert transcodes the input into the requested format. Progress is read
// from the codec's key=value status stream on stdout and reported through
// req.OnProgress at whole-percent granularity.
func (c *Converter) Convert(ctx context.Context, req Request) error {
	duration, err := c.probeDuration(ctx, req.InputPath)
	if err != nil {
		c.logger.Warn("Could not probe input duration, progress will be coarse",
			zap.String("input", req.InputPath),
			zap.Error(err),
		)
		duration = 0
	}

	args, err := buildArgs(req)
	if err != nil {
		return err
	}

	c.logger.Info("Starting conversion",
		zap.String("input", req.InputPath),
		zap.String("output", req.OutputPath),
		zap.String("format", req.Format),
		zap.Float64("duration_seconds", duration),
	)

	cmd := exec.CommandContext(ctx, c.ffmpegPath, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("attach status pipe: %w", err)
	}
	var stderr strings.Builder
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start codec tool: %w", err)
	}

	last := parseProgress(stdout, duration, req.OnProgress)

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("codec tool failed: %w: %s", err, truncate(stderr.String(), 1024))
	}

	if last < 100 && req.OnProgress != nil {
		req.OnProgress(Event{Percent: 100})
	}

	c.logger.Info("Conversion completed",
		zap.String("output", req.OutputPath),
	)
	return nil
}

// probeDuration asks ffprobe for the container duration in seconds.
func (c *Converter) probeDuration(ctx context.Context, path string) (float64, error) {
	cmd := exec.CommandContext(ctx, c.ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("probe duration: %w", err)
	}
	d, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", strings.TrimSpace(string(out)), err)
	}
	return d, nil
}

// parseProgress consumes the -progress key=value stream and emits events.
// It reports whole percents only and returns the last percent emitted.
// A zero duration suppresses percent math until the end marker arrives.
func parseProgress(r io.Reader, duration float64, emit func(Event)) int {
	scanner := bufio.NewScanner(r)
	last := -1
	speed := 0.0
	elapsed := 0.0

	for scanner.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(scanner.Text()), "=")
		if !ok {
			continue
		}
		switch key {
		case "speed":
			if s, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(value), "x"), 64); err == nil && s > 0 {
				speed = s
			}
		case "out_time":
			sec, err := parseClock(strings.TrimSpace(value))
			if err != nil {
				continue
			}
			elapsed = sec
			if duration <= 0 {
				continue
			}
			percent := int(elapsed / duration * 100)
			if percent > 99 {
				percent = 99
			}
			if percent > last {
				last = percent
				if emit != nil {
					emit(Event{Percent: percent, ETASeconds: etaSeconds(duration, elapsed, speed)})
				}
			}
		case "progress":
			if strings.TrimSpace(value) == "end" {
				last = 100
				if emit != nil {
					emit(Event{Percent: 100})
				}
			}
		}
	}
	return last
}

// parseClock turns an HH:MM:SS.ffffff timestamp into seconds.
func parseClock(s string) (float64, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("malformed clock %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("malformed clock %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("malformed clock %q", s)
	}
	sec, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return 0, fmt.Errorf("malformed clock %q", s)
	}
	return float64(h)*3600 + float64(m)*60 + sec, nil
}

func etaSeconds(duration, elapsed, speed float64) int {
	if speed <= 0 || elapsed >= duration {
		return 0
	}
	return int((duration - elapsed) / speed)
}

// buildArgs assembles the codec invocation for the target format. The
// -progress pipe keeps the status stream on stdout and away from stderr,
// which carries only diagnostics.
func buildArgs(req Request) ([]string, error) {
	args := []string{"-y", "-i", req.InputPath}

	switch req.Format {
	case "mp3":
		args = append(args, "-vn", "-c:a", "libmp3lame")
		if req.Quality != "" {
			args = append(args, "-b:a", req.Quality)
		}
	case "wav":
		args = append(args, "-vn", "-c:a", "pcm_s16le")
	case "ogg":
		args = append(args, "-vn", "-c:a", "libvorbis")
		if req.Quality != "" {
			args = append(args, "-b:a", req.Quality)
		}
	case "flac":
		args = append(args, "-vn", "-c:a", "flac")
	case "mp4":
		args = append(args,
			"-c:v", "libx264", "-preset", "veryfast", "-crf", "23",
			"-c:a", "aac",
			"-movflags", "+faststart",
		)
	case "webm":
		args = append(args,
			"-c:v", "libvpx-vp9", "-crf", "32", "-b:v", "0",
			"-c:a", "libopus",
		)
	default:
		return nil, fmt.Errorf("unsupported format: %s", req.Format)
	}

	args = append(args, "-progress", "pipe:1", "-nostats", req.OutputPath)
	return args, nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n]
}
