package pipeline

// Batch is N clips laid out [N][T][C][H][W] with their class indices.
type Batch struct {
	X      []float32
	Labels []int
	IDs    []string
	N      int
}
