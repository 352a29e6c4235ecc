// Package camera captures still frames on an interval, writes them to disk
// and optionally uploads them to S3.
package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"Solar/internal/runner"
)

const TypeName = "webcam"

var (
	// ErrCapture and ErrConfig are recoverable: the runner counts them and
	// keeps capturing.
	ErrCapture        = errors.New("capture failed")
	ErrConfig         = errors.New("camera misconfigured")
	ErrNotInitialized = errors.New("camera not initialized")
)

// Camera is the capture device adapter.
type Camera interface {
	Open(ctx context.Context) error
	Capture(ctx context.Context) (image.Image, error)
	IsHealthy() bool
	Close() error
}

// Uploader stores an encoded frame remotely and returns its key.
type Uploader interface {
	Upload(ctx context.Context, name string, body []byte) (string, error)
}

type Config struct {
	CameraID        int    `mapstructure:"camera_id"`
	Resolution      []int  `mapstructure:"resolution"`
	OutputDirectory string `mapstructure:"output_directory"`
	FileFormat      string `mapstructure:"file_format"`
	JPEGQuality     int    `mapstructure:"jpeg_quality"`
	S3Bucket        string `mapstructure:"s3_bucket"`
	S3Region        string `mapstructure:"s3_region"`
	S3Prefix        string `mapstructure:"s3_prefix"`
}

func (c Config) size() (int, int) {
	if len(c.Resolution) == 2 && c.Resolution[0] > 0 && c.Resolution[1] > 0 {
		return c.Resolution[0], c.Resolution[1]
	}
	return 640, 480
}

// Capture describes one saved frame.
type Capture struct {
	Path      string    `json:"path"`
	RemoteKey string    `json:"remote_key,omitempty"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	Bytes     int       `json:"bytes"`
	Timestamp time.Time `json:"timestamp"`
}

type Webcam struct {
	name      string
	config    Config
	maxErrors int
	logger    *slog.Logger
	now       func() time.Time

	camera   Camera
	uploader Uploader

	mu     sync.Mutex
	opened bool
	errors int
	last   *Capture
}

// New builds a webcam runner. camera may be nil for a synthetic camera;
// uploader may be nil to keep frames local.
func New(name string, settings runner.Settings, camera Camera, uploader Uploader, logger *slog.Logger) (*Webcam, error) {
	cfg := Config{
		OutputDirectory: "data/photos",
		FileFormat:      "jpg",
		JPEGQuality:     85,
	}
	if err := settings.Decode(&cfg); err != nil {
		return nil, err
	}
	switch strings.ToLower(cfg.FileFormat) {
	case "jpg", "jpeg":
	default:
		return nil, fmt.Errorf("%w: unsupported file_format %q", runner.ErrInvalidConfig, cfg.FileFormat)
	}
	if cfg.JPEGQuality < 1 || cfg.JPEGQuality > 100 {
		return nil, fmt.Errorf("%w: jpeg_quality must be within [1, 100]", runner.ErrInvalidConfig)
	}
	if cfg.Resolution != nil && len(cfg.Resolution) != 2 {
		return nil, fmt.Errorf("%w: resolution must be [width, height]", runner.ErrInvalidConfig)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if camera == nil {
		w, h := cfg.size()
		camera = NewSynthetic(w, h)
	}

	return &Webcam{
		name:      name,
		config:    cfg,
		maxErrors: settings.MaxErrors,
		logger:    logger.With("runner", name, "sensor", TypeName),
		now:       time.Now,
		camera:    camera,
		uploader:  uploader,
	}, nil
}

// Initialize opens the camera and saves a test capture.
func (w *Webcam) Initialize(ctx context.Context) error {
	if err := w.camera.Open(ctx); err != nil {
		return fmt.Errorf("open camera %d: %w", w.config.CameraID, err)
	}

	w.mu.Lock()
	w.opened = true
	w.errors = 0
	w.mu.Unlock()

	if _, err := w.capture(ctx); err != nil {
		w.mu.Lock()
		w.opened = false
		w.mu.Unlock()
		_ = w.camera.Close()
		return fmt.Errorf("test capture: %w", err)
	}

	w.logger.Info("webcam initialized", "camera_id", w.config.CameraID, "output_directory", w.config.OutputDirectory)
	return nil
}

func (w *Webcam) WorkCycle(ctx context.Context) error {
	w.mu.Lock()
	opened := w.opened
	w.mu.Unlock()
	if !opened {
		return ErrNotInitialized
	}

	c, err := w.capture(ctx)
	if err != nil {
		w.mu.Lock()
		w.errors++
		w.mu.Unlock()
		return err
	}
	w.logger.Debug("captured photo", "path", c.Path, "remote_key", c.RemoteKey)
	return nil
}

func (w *Webcam) capture(ctx context.Context) (Capture, error) {
	img, err := w.camera.Capture(ctx)
	if err != nil {
		return Capture{}, fmt.Errorf("%w: %v", ErrCapture, err)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: w.config.JPEGQuality}); err != nil {
		return Capture{}, fmt.Errorf("%w: encode: %v", ErrCapture, err)
	}

	if err := os.MkdirAll(w.config.OutputDirectory, 0755); err != nil {
		return Capture{}, fmt.Errorf("%w: create output directory: %v", ErrConfig, err)
	}

	ts := w.now()
	fileName := fmt.Sprintf("%s_%s_%s.jpg", w.name, ts.UTC().Format("20060102T150405"), uuid.New().String()[:8])
	path := filepath.Join(w.config.OutputDirectory, fileName)
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return Capture{}, fmt.Errorf("%w: write %s: %v", ErrCapture, path, err)
	}

	bounds := img.Bounds()
	c := Capture{
		Path:      path,
		Width:     bounds.Dx(),
		Height:    bounds.Dy(),
		Bytes:     buf.Len(),
		Timestamp: ts,
	}

	if w.uploader != nil {
		key, err := w.uploader.Upload(ctx, fileName, buf.Bytes())
		if err != nil {
			// The local copy is kept; the cycle still counts as failed.
			w.setLast(c)
			return c, fmt.Errorf("%w: upload %s: %v", ErrCapture, fileName, err)
		}
		c.RemoteKey = key
	}

	w.setLast(c)
	return c, nil
}

func (w *Webcam) setLast(c Capture) {
	w.mu.Lock()
	w.last = &c
	w.mu.Unlock()
}

// IsHealthy reports false once max_errors capture errors have accumulated
// since initialization.
func (w *Webcam) IsHealthy() bool {
	w.mu.Lock()
	opened, errs := w.opened, w.errors
	w.mu.Unlock()

	if !opened || errs >= w.maxErrors {
		return false
	}
	return w.camera.IsHealthy()
}

func (w *Webcam) Cleanup() {
	w.mu.Lock()
	opened := w.opened
	w.opened = false
	w.mu.Unlock()

	if opened {
		if err := w.camera.Close(); err != nil {
			w.logger.Warn("failed to release camera", "error", err)
		}
		w.logger.Info("webcam released")
	}
}

// ClassifyError continues through capture and configuration errors.
func (w *Webcam) ClassifyError(err error) runner.ErrorAction {
	switch {
	case errors.Is(err, ErrNotInitialized):
		return runner.Stop
	case errors.Is(err, ErrCapture), errors.Is(err, ErrConfig):
		w.logger.Warn("webcam error, continuing", "error", err)
	}
	return runner.Continue
}

func (w *Webcam) LastCapture() (Capture, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.last == nil {
		return Capture{}, false
	}
	return *w.last, true
}

// Synthetic renders a moving gradient so consecutive frames differ.
type Synthetic struct {
	width, height int

	mu     sync.Mutex
	open   bool
	frames int
}

func NewSynthetic(width, height int) *Synthetic {
	return &Synthetic{width: width, height: height}
}

func (s *Synthetic) Open(ctx context.Context) error {
	s.mu.Lock()
	s.open = true
	s.mu.Unlock()
	return nil
}

func (s *Synthetic) Capture(ctx context.Context) (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return nil, errors.New("synthetic camera not open")
	}
	s.frames++

	img := image.NewRGBA(image.Rect(0, 0, s.width, s.height))
	shift := s.frames * 8
	for y := 0; y < s.height; y++ {
		for x := 0; x < s.width; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8((x + shift) * 255 / max(s.width, 1)),
				G: uint8(y * 255 / max(s.height, 1)),
				B: uint8(shift),
				A: 255,
			})
		}
	}
	return img, nil
}

func (s *Synthetic) IsHealthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

func (s *Synthetic) Close() error {
	s.mu.Lock()
	s.open = false
	s.mu.Unlock()
	return nil
}
