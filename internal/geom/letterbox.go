package geom

// LetterboxParams captures the scale and padding a letterbox resize
// applied when fitting a source frame into an inference input size.
type LetterboxParams struct {
	SrcW, SrcH int
	DstW, DstH int
	Scale      float64
	PadX, PadY float64
}

// ComputeLetterbox returns the parameters of an aspect-preserving
// resize of src into dst with symmetric padding.
func ComputeLetterbox(srcW, srcH, dstW, dstH int) LetterboxParams {
	scale := min(float64(dstW)/float64(srcW), float64(dstH)/float64(srcH))
	newW := float64(srcW) * scale
	newH := float64(srcH) * scale
	return LetterboxParams{
		SrcW: srcW, SrcH: srcH,
		DstW: dstW, DstH: dstH,
		Scale: scale,
		PadX:  (float64(dstW) - newW) / 2.0,
		PadY:  (float64(dstH) - newH) / 2.0,
	}
}

// ReverseLetterbox maps a bbox from letterboxed inference space back to
// source-frame pixel space. Detector adapters must apply this before
// feeding detections to the aggregator.
func ReverseLetterbox(r Rect, p LetterboxParams) Rect {
	const eps = 1e-12
	s := p.Scale + eps
	return Rect{
		X1: (r.X1 - p.PadX) / s,
		Y1: (r.Y1 - p.PadY) / s,
		X2: (r.X2 - p.PadX) / s,
		Y2: (r.Y2 - p.PadY) / s,
	}
}
