package dimcache

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"photovault/internal/logging"
	"photovault/internal/mediatypes"
)

const ffprobeTimeout = 10 * time.Second

// Probe determines media dimensions without decoding full frames where
// possible: image headers via the registered decoders, videos via ffprobe.
func Probe(ctx context.Context, absPath string, kind mediatypes.ItemType) (Dimensions, error) {
	switch kind {
	case mediatypes.ItemTypePhoto:
		return probeImage(absPath)
	case mediatypes.ItemTypeVideo:
		return probeVideo(ctx, absPath)
	default:
		return Dimensions{}, fmt.Errorf("no dimension probe for type %s", kind)
	}
}

func probeImage(absPath string) (Dimensions, error) {
	f, err := os.Open(absPath)
	if err != nil {
		return Dimensions{}, err
	}
	cfg, _, err := image.DecodeConfig(f)
	closeErr := f.Close()
	if err == nil && cfg.Width > 0 && cfg.Height > 0 {
		return Dimensions{Width: cfg.Width, Height: cfg.Height}, nil
	}
	if closeErr != nil {
		logging.Debug("close after header probe of %s: %v", absPath, closeErr)
	}

	// Some files carry headers the config decoders choke on (progressive
	// JPEG oddities, truncated EXIF). A full decode is slower but salvages
	// most of them.
	img, err := imaging.Open(absPath)
	if err != nil {
		return Dimensions{}, err
	}
	b := img.Bounds()
	return Dimensions{Width: b.Dx(), Height: b.Dy()}, nil
}

func probeVideo(ctx context.Context, absPath string) (Dimensions, error) {
	ctx, cancel := context.WithTimeout(ctx, ffprobeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height",
		"-of", "csv=s=x:p=0",
		absPath)
	out, err := cmd.Output()
	if err != nil {
		return Dimensions{}, fmt.Errorf("ffprobe %s: %w", absPath, err)
	}

	line := strings.TrimSpace(string(out))
	w, h, ok := strings.Cut(line, "x")
	if !ok {
		return Dimensions{}, fmt.Errorf("ffprobe %s: unexpected output %q", absPath, line)
	}
	width, err1 := strconv.Atoi(strings.TrimSpace(w))
	height, err2 := strconv.Atoi(strings.TrimSpace(h))
	if err1 != nil || err2 != nil || width <= 0 || height <= 0 {
		return Dimensions{}, fmt.Errorf("ffprobe %s: unexpected output %q", absPath, line)
	}
	return Dimensions{Width: width, Height: height}, nil
}

// FFProbeAvailable reports whether ffprobe is on PATH. Checked once at
// startup so a missing binary is one clear log line, not a probe error per
// video.
func FFProbeAvailable() bool {
	_, err := exec.LookPath("ffprobe")
	return err == nil
}
