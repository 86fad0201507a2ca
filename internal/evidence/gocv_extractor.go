package evidence

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"

	"gocv.io/x/gocv"

	"github.com/dkurien/fodpipe/internal/geom"
)

// Clip encoding settings.
const (
	clipFourCC   = "avc1"
	fallbackFPS  = 30.0
	overlayThick = 6
	labelScale   = 1.2
)

var overlayColor = color.RGBA{R: 230, G: 30, B: 30, A: 255}

// ErrImWrite is returned when OpenCV reports an image write failure.
var ErrImWrite = errors.New("image write failed")

// GoCVExtractor renders artifacts with OpenCV. The zero value is
// ready to use; every method opens its own VideoCapture so workers
// can run concurrently against the same source file.
type GoCVExtractor struct{}

// NewGoCVExtractor returns an Extractor backed by gocv.
func NewGoCVExtractor() *GoCVExtractor { return &GoCVExtractor{} }

// Duration derives the video length from frame count and FPS.
func (e *GoCVExtractor) Duration(videoPath string) (float64, error) {
	cap, err := gocv.OpenVideoCapture(videoPath)
	if err != nil {
		return 0, fmt.Errorf("open video %s: %w", videoPath, err)
	}
	defer cap.Close()

	fps := cap.Get(gocv.VideoCaptureFPS)
	frames := cap.Get(gocv.VideoCaptureFrameCount)
	if fps <= 0 || frames <= 0 {
		return 0, fmt.Errorf("video %s: cannot determine duration (fps=%v frames=%v)", videoPath, fps, frames)
	}
	return frames / fps, nil
}

// Clip decodes the window and re-encodes it frame by frame so the
// output is independent of the source's keyframe placement.
func (e *GoCVExtractor) Clip(ctx context.Context, videoPath string, startS, durS float64, outPath string) error {
	cap, err := gocv.OpenVideoCapture(videoPath)
	if err != nil {
		return fmt.Errorf("open video %s: %w", videoPath, err)
	}
	defer cap.Close()

	fps := cap.Get(gocv.VideoCaptureFPS)
	if fps <= 0 {
		fps = fallbackFPS
	}
	width := int(cap.Get(gocv.VideoCaptureFrameWidth))
	height := int(cap.Get(gocv.VideoCaptureFrameHeight))
	if width <= 0 || height <= 0 {
		return fmt.Errorf("video %s: invalid frame size %dx%d", videoPath, width, height)
	}

	cap.Set(gocv.VideoCapturePosMsec, startS*1000.0)

	writer, err := gocv.VideoWriterFile(outPath, clipFourCC, fps, width, height, true)
	if err != nil {
		return fmt.Errorf("open clip writer %s: %w", outPath, err)
	}
	defer writer.Close()

	frame := gocv.NewMat()
	defer frame.Close()

	wantFrames := int(math.Ceil(durS * fps))
	for i := 0; i < wantFrames; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if ok := cap.Read(&frame); !ok || frame.Empty() {
			break // end of stream inside the window
		}
		if err := writer.Write(frame); err != nil {
			return fmt.Errorf("write clip frame: %w", err)
		}
	}
	return nil
}

// Snapshot seeks by frame index when available, which is exact, and by
// timestamp otherwise.
func (e *GoCVExtractor) Snapshot(ctx context.Context, videoPath string, frameIdx *int, atS float64, outPath string) (int, int, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}
	cap, err := gocv.OpenVideoCapture(videoPath)
	if err != nil {
		return 0, 0, fmt.Errorf("open video %s: %w", videoPath, err)
	}
	defer cap.Close()

	if frameIdx != nil {
		cap.Set(gocv.VideoCapturePosFrames, float64(*frameIdx))
	} else {
		cap.Set(gocv.VideoCapturePosMsec, atS*1000.0)
	}

	frame := gocv.NewMat()
	defer frame.Close()
	if ok := cap.Read(&frame); !ok || frame.Empty() {
		return 0, 0, fmt.Errorf("video %s: no decodable frame at requested position", videoPath)
	}

	if ok := gocv.IMWrite(outPath, frame); !ok {
		return 0, 0, fmt.Errorf("%w: %s", ErrImWrite, outPath)
	}
	return frame.Cols(), frame.Rows(), nil
}

// DrawBBox renders the resolved pixel box and a class label onto a
// copy of the snapshot.
func (e *GoCVExtractor) DrawBBox(ctx context.Context, snapshotPath string, box geom.Rect, label, outPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	img := gocv.IMRead(snapshotPath, gocv.IMReadColor)
	if img.Empty() {
		return fmt.Errorf("read snapshot %s: empty image", snapshotPath)
	}
	defer img.Close()

	r := image.Rect(
		int(math.Round(box.X1)), int(math.Round(box.Y1)),
		int(math.Round(box.X2)), int(math.Round(box.Y2)),
	)
	gocv.Rectangle(&img, r, overlayColor, overlayThick)

	textY := r.Min.Y - 12
	if textY < 24 {
		textY = r.Min.Y + 36
	}
	gocv.PutText(&img, label, image.Pt(r.Min.X, textY),
		gocv.FontHersheySimplex, labelScale, overlayColor, 2)

	if ok := gocv.IMWrite(outPath, img); !ok {
		return fmt.Errorf("%w: %s", ErrImWrite, outPath)
	}
	return nil
}
