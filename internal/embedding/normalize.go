package embedding

import "github.com/hyperjump/kiji/pkg/utils"

// NormalizeL2Slice normalizes the slice in place to unit L2 norm.
func NormalizeL2Slice(x []float32) {
	utils.NormalizeL2(x)
}
