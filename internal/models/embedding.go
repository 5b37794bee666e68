package models

// Embedding wraps a vector with the model version that produced it.
// Vectors from different versions live in different spaces and must never be compared.
type Embedding struct {
	Version string    `json:"version"`
	Vector  []float32 `json:"vector"`
}

// Dimensions returns the vector length.
func (e Embedding) Dimensions() int {
	return len(e.Vector)
}

// Compatible reports whether e was produced by version and has dims dimensions.
func (e *Embedding) Compatible(version string, dims int) bool {
	if e == nil || e.Version != version {
		return false
	}
	return dims <= 0 || len(e.Vector) == dims
}
