package ingestor

import (
	"image"

	"gocv.io/x/gocv"
)

// Adaptive Frame Sampler constants (§4.1).
const (
	HighWaterMarkPct  = 80.0
	MotionThreshold   = 2.5
	maxIntervalFactor = 3
)

// Sampler decides forward/drop for each decoded frame of one camera,
// tracking interval state and the previous grayscale frame for
// optical-flow comparison.
type Sampler struct {
	baseInterval    float64
	currentInterval float64
	frameCount      uint64
	prevGray        gocv.Mat
	havePrev        bool
}

// NewSampler builds a Sampler for a camera whose capture rate is
// captureFPS, targeting targetFPS.
func NewSampler(captureFPS, targetFPS float64) *Sampler {
	base := captureFPS / targetFPS
	if base < 1 {
		base = 1
	}
	return &Sampler{
		baseInterval:    base,
		currentInterval: base,
		prevGray:        gocv.NewMat(),
	}
}

// Close releases the sampler's OpenCV-backed Mat.
func (s *Sampler) Close() {
	s.prevGray.Close()
}

// Decide runs the §4.1 policy for one decoded frame and reports
// whether it should be forwarded to the Frame Bus. fillPct is the
// current Frame Bus occupancy (bus_len / MAXLEN * 100) for this
// camera.
func (s *Sampler) Decide(img image.Image, fillPct float64) bool {
	gray, ok := toGrayMat(img)
	if !ok {
		return s.advance()
	}
	defer func() {
		if s.havePrev {
			s.prevGray.Close()
		}
		s.prevGray = gray
		s.havePrev = true
	}()

	switch {
	case fillPct > HighWaterMarkPct:
		s.currentInterval = minFloat(s.currentInterval+1, float64(maxIntervalFactor)*s.baseInterval)
	case s.havePrev:
		mag := meanFlowMagnitude(s.prevGray, gray)
		if mag > MotionThreshold {
			s.currentInterval = maxFloat(1, s.currentInterval-1)
		} else {
			s.currentInterval = s.baseInterval
		}
	}

	return s.advance()
}

func (s *Sampler) advance() bool {
	s.frameCount++
	interval := uint64(s.currentInterval)
	if interval == 0 {
		interval = 1
	}
	return s.frameCount%interval == 0
}

func toGrayMat(img image.Image) (gocv.Mat, bool) {
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return gocv.Mat{}, false
	}
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return gocv.Mat{}, false
	}
	defer mat.Close()

	gray := gocv.NewMat()
	gocv.CvtColor(mat, &gray, gocv.ColorBGRToGray)
	return gray, true
}

// meanFlowMagnitude computes the mean Farneback optical-flow magnitude
// between two grayscale frames, using the parameters fixed by §4.1:
// pyr_scale=0.5, levels=3, winsize=15, iters=3, poly_n=5, poly_sigma=1.2.
func meanFlowMagnitude(prev, next gocv.Mat) float64 {
	flow := gocv.NewMat()
	defer flow.Close()

	gocv.CalcOpticalFlowFarneback(prev, next, &flow, 0.5, 3, 15, 3, 5, 1.2, 0)

	channels := gocv.Split(flow)
	defer func() {
		for _, c := range channels {
			c.Close()
		}
	}()
	if len(channels) != 2 {
		return 0
	}

	magnitude := gocv.NewMat()
	defer magnitude.Close()
	gocv.Magnitude(channels[0], channels[1], &magnitude)

	mean := magnitude.Mean()
	return mean.Val1
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
