package ingestor

import (
	"context"
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"

	"github.com/ethan/trinetra/pkg/logger"
)

// RTSPSource is the production FrameSource: it opens a camera's RTSP
// stream through OpenCV's VideoCapture (backed by ffmpeg), which
// handles RTP depacketization and H.264 decode internally so the
// ingestor only ever sees raster frames.
type RTSPSource struct {
	url        string
	captureFPS float64
	logger     *logger.Logger

	mu  sync.Mutex
	cap *gocv.VideoCapture
}

// NewRTSPSource builds an RTSPSource for url. It does not dial until
// the first Read.
func NewRTSPSource(url string, captureFPS float64, log *logger.Logger) *RTSPSource {
	if log == nil {
		log = logger.Default()
	}
	return &RTSPSource{url: url, captureFPS: captureFPS, logger: log}
}

// CaptureFPS reports the camera's nominal capture rate, feeding the
// Adaptive Frame Sampler's base interval.
func (s *RTSPSource) CaptureFPS() float64 { return s.captureFPS }

// Read returns the next decoded frame, dialing the stream on first
// call or after a prior failure closed it.
func (s *RTSPSource) Read(ctx context.Context) (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cap == nil {
		cap, err := gocv.OpenVideoCapture(s.url)
		if err != nil {
			return nil, fmt.Errorf("ingestor: open rtsp stream %s: %w", s.url, err)
		}
		s.cap = cap
		s.logger.Info("ingestor: rtsp stream opened", "url", s.url)
	}

	mat := gocv.NewMat()
	defer mat.Close()

	if ok := s.cap.Read(&mat); !ok || mat.Empty() {
		s.cap.Close()
		s.cap = nil
		return nil, fmt.Errorf("ingestor: rtsp stream %s: read failed", s.url)
	}

	img, err := mat.ToImage()
	if err != nil {
		return nil, fmt.Errorf("ingestor: decode frame from %s: %w", s.url, err)
	}
	return img, nil
}

// Close releases the underlying VideoCapture, if open.
func (s *RTSPSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cap == nil {
		return nil
	}
	err := s.cap.Close()
	s.cap = nil
	return err
}
