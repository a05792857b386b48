// Package transcode converts raw rendered video into a looping GIF by
// shelling out to ffmpeg through uniquely-named temporary files.
package transcode

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"loopcard/internal/pkg/errors"
)

// Quality values outside this band are known to be either visually poor or
// excessively large, so inputs are clamped into it.
const (
	qualityMin = 40
	qualityMax = 80
)

// errPattern matches ffmpeg diagnostics that indicate a failed conversion
// even when the exit code is zero.
var errPattern = regexp.MustCompile(`(?i)(error|invalid data|conversion failed)`)

// Options is the conversion profile. One transcoder with one profile
// replaces the per-call-site flag variants the old conversion paths carried.
type Options struct {
	// Quality is a 0-100 knob mapped onto the GIF palette size. Clamped
	// into the effective band before use.
	Quality int
	// FrameRate is the output frame rate.
	FrameRate int
	// Timeout bounds a single conversion. Zero disables the bound; the
	// caller's context still applies either way.
	Timeout time.Duration
}

// DefaultOptions is the canonical conversion profile.
func DefaultOptions() Options {
	return Options{Quality: 60, FrameRate: 15, Timeout: 2 * time.Minute}
}

func (o Options) normalized() Options {
	if o.Quality < qualityMin {
		o.Quality = qualityMin
	}
	if o.Quality > qualityMax {
		o.Quality = qualityMax
	}
	if o.FrameRate <= 0 {
		o.FrameRate = DefaultOptions().FrameRate
	}
	return o
}

// maxColors maps the clamped quality onto the GIF palette size.
func (o Options) maxColors() int {
	return o.Quality * 256 / 100
}

// Transcoder invokes the external transcoding binary. Safe for concurrent
// use; every invocation works on its own temp files.
type Transcoder struct {
	binary string
	opts   Options
}

// New creates a Transcoder around the given binary (normally "ffmpeg")
// using the given conversion profile.
func New(binary string, opts Options) *Transcoder {
	if binary == "" {
		binary = "ffmpeg"
	}
	return &Transcoder{binary: binary, opts: opts.normalized()}
}

// Convert writes raw to a temp file, runs the transcoding subprocess, and
// returns the produced GIF bytes. Both temp files are removed on every exit
// path; removal failures are swallowed so they never mask the primary error.
// When ctx expires the subprocess is killed, not abandoned.
//
// Convert does not retry: a transcode failure is usually deterministic for
// the same input, and retrying it blindly wastes the render that produced it.
func (t *Transcoder) Convert(ctx context.Context, raw []byte) ([]byte, error) {
	if t.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.opts.Timeout)
		defer cancel()
	}

	in, err := os.CreateTemp("", "loopcard-raw-*.mp4")
	if err != nil {
		return nil, errors.Wrap(err, "transcode.tempfile", "failed to create input temp file")
	}
	inPath := in.Name()
	defer os.Remove(inPath)

	outPath := inPath + ".gif"
	defer os.Remove(outPath)

	if _, err := in.Write(raw); err != nil {
		in.Close()
		return nil, errors.Wrap(err, "transcode.tempfile", "failed to write input temp file")
	}
	if err := in.Close(); err != nil {
		return nil, errors.Wrap(err, "transcode.tempfile", "failed to flush input temp file")
	}

	cmd := exec.CommandContext(ctx, t.binary, t.args(inPath, outPath)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	diag := strings.TrimSpace(stderr.String())

	if ctx.Err() != nil {
		return nil, errors.WrapWithCode(ctx.Err(), errors.CodeTimeout, "transcode.run",
			fmt.Sprintf("%s killed: %s", t.binary, firstLine(diag)))
	}
	if runErr != nil {
		return nil, errors.Internalf("transcode.run: %s failed: %v: %s", t.binary, runErr, firstLine(diag))
	}
	if errPattern.MatchString(diag) {
		return nil, errors.Internalf("transcode.run: %s reported: %s", t.binary, firstLine(diag))
	}

	gif, err := os.ReadFile(outPath)
	if err != nil {
		return nil, errors.Wrap(err, "transcode.output", "transcoded output missing or unreadable")
	}
	return gif, nil
}

// args builds the fixed ffmpeg argument template: palette-based GIF with a
// deterministic pixel format, no audio, timestamp passthrough, infinite
// looping, and heavy dithering for compression.
func (t *Transcoder) args(inPath, outPath string) []string {
	filter := fmt.Sprintf(
		"fps=%d,split[a][b];[a]palettegen=max_colors=%d:stats_mode=diff[p];[b][p]paletteuse=dither=bayer:bayer_scale=5:diff_mode=rectangle",
		t.opts.FrameRate, t.opts.maxColors(),
	)
	return []string{
		"-hide_banner", "-nostdin", "-loglevel", "error",
		"-y",
		"-i", inPath,
		"-vf", filter,
		"-an",
		"-fps_mode", "passthrough",
		"-loop", "0",
		"-f", "gif",
		outPath,
	}
}

func firstLine(s string) string {
	if s == "" {
		return "(no diagnostics)"
	}
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
