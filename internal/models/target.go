package models

// reconstructionTarget returns the per-clip target size and a function that
// derives decoder targets from a batch of clips. Frames are average pooled to
// a targetCells×targetCells grid per channel. With flow the target is the
// difference between consecutive pooled frames.
func reconstructionTarget(g Geometry, flow bool) (int, func(x []float32, n int) []float32) {
	ph, pw := min(targetCells, g.Height), min(targetCells, g.Width)
	frame := g.Channels * ph * pw
	frames := g.TimeSteps
	if flow && g.TimeSteps > 1 {
		frames = g.TimeSteps - 1
	} else {
		flow = false
	}
	size := frames * frame

	return size, func(x []float32, n int) []float32 {
		clip := g.ClipSize()
		out := make([]float32, 0, n*size)
		pooled := make([][]float32, g.TimeSteps)
		for i := 0; i < n; i++ {
			sample := x[i*clip : (i+1)*clip]
			for t := 0; t < g.TimeSteps; t++ {
				start := t * g.Channels * g.Height * g.Width
				pooled[t] = poolFrame(sample[start:start+g.Channels*g.Height*g.Width], g.Channels, g.Height, g.Width, ph, pw)
			}
			if !flow {
				for _, p := range pooled {
					out = append(out, p...)
				}
				continue
			}
			for t := 1; t < g.TimeSteps; t++ {
				for j := range pooled[t] {
					out = append(out, pooled[t][j]-pooled[t-1][j])
				}
			}
		}
		return out
	}
}

// poolFrame averages a C×H×W frame onto a C×ph×pw grid. Trailing rows and
// columns that do not divide evenly fold into the last cell.
func poolFrame(frame []float32, channels, height, width, ph, pw int) []float32 {
	out := make([]float32, channels*ph*pw)
	counts := make([]float32, channels*ph*pw)
	for c := 0; c < channels; c++ {
		for y := 0; y < height; y++ {
			cy := min(y*ph/height, ph-1)
			for x := 0; x < width; x++ {
				cx := min(x*pw/width, pw-1)
				idx := c*ph*pw + cy*pw + cx
				out[idx] += frame[c*height*width+y*width+x]
				counts[idx]++
			}
		}
	}
	for i := range out {
		if counts[i] > 0 {
			out[i] /= counts[i]
		}
	}
	return out
}
