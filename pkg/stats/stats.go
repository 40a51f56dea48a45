// Package stats computes intensity statistics of volume images and
// similarity metrics between two images of the same extent. It is used to
// verify that a volume survives a write and read cycle.
package stats

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"mrivista/pkg/value"
	"mrivista/pkg/volume"
)

// numBins is the histogram resolution used for entropy estimates.
const numBins = 256

// Summary holds the intensity statistics of one image.
type Summary struct {
	Size    volume.Size
	Type    value.TypeID
	Voxels  int
	Min     float64
	Max     float64
	Mean    float64
	StdDev  float64
	Entropy float64
}

// Comparison holds the similarity metrics between a reference image and a
// candidate.
type Comparison struct {
	// RMSE is the root mean square intensity difference. Zero means identical
	// voxels.
	RMSE float64

	// MaxAbsDiff is the largest single voxel difference.
	MaxAbsDiff float64

	// SSIM is the global structural similarity index, 1 for identical images.
	SSIM float64

	// MI approximates the mutual information from the correlation of the two
	// intensity distributions.
	MI float64

	// EntropyDiff is the absolute difference of the histogram entropies.
	EntropyDiff float64
}

// Identical reports whether no voxel differs.
func (c Comparison) Identical() bool {
	return c.MaxAbsDiff == 0
}

// Summarize computes the statistics of img.
func Summarize(img *volume.Image) (Summary, error) {
	data, size, err := img.Float64Data()
	if err != nil {
		return Summary{}, err
	}
	s := Summary{Size: size, Type: img.TypeID(), Voxels: len(data)}
	if len(data) == 0 {
		return s, nil
	}
	s.Min = floats.Min(data)
	s.Max = floats.Max(data)
	s.Mean, s.StdDev = stat.PopMeanStdDev(data, nil)
	s.Entropy = Entropy(data)
	return s, nil
}

// Compare computes the similarity of b to the reference a. Both images must
// have the same extents.
func Compare(a, b *volume.Image) (Comparison, error) {
	ref, sa, err := a.Float64Data()
	if err != nil {
		return Comparison{}, err
	}
	cand, sb, err := b.Float64Data()
	if err != nil {
		return Comparison{}, err
	}
	if sa != sb {
		return Comparison{}, fmt.Errorf("cannot compare %s with %s: %w", sa, sb, volume.ErrGeometryMismatch)
	}
	c := Comparison{
		RMSE:        RMSE(ref, cand),
		SSIM:        SSIM(ref, cand),
		MI:          MutualInformation(ref, cand),
		EntropyDiff: math.Abs(Entropy(ref) - Entropy(cand)),
	}
	for i := range ref {
		c.MaxAbsDiff = math.Max(c.MaxAbsDiff, math.Abs(ref[i]-cand[i]))
	}
	return c, nil
}

// RMSE computes the root mean square error
func RMSE(original, other []float64) float64 {
	n := len(original)
	if n != len(other) || n == 0 {
		return 0
	}
	return floats.Distance(original, other, 2) / math.Sqrt(float64(n))
}

// SSIM computes the global Structural Similarity Index. The dynamic range is
// taken from the original data.
func SSIM(original, other []float64) float64 {
	const k1 = 0.01
	const k2 = 0.03

	n := len(original)
	if n != len(other) || n == 0 {
		return 0
	}
	dynRange := floats.Max(original) - floats.Min(original)
	if dynRange == 0 {
		dynRange = 1
	}
	c1 := (k1 * dynRange) * (k1 * dynRange)
	c2 := (k2 * dynRange) * (k2 * dynRange)

	muX := stat.Mean(original, nil)
	muY := stat.Mean(other, nil)
	sigmaX := stat.Variance(original, nil)
	sigmaY := stat.Variance(other, nil)
	sigmaXY := stat.Covariance(original, other, nil)
	if n < 2 {
		sigmaX, sigmaY, sigmaXY = 0, 0, 0
	}

	num := (2*muX*muY + c1) * (2*sigmaXY + c2)
	den := (muX*muX + muY*muY + c1) * (sigmaX + sigmaY + c2)
	if den > 0 {
		return num / den
	}
	return 0
}

// MutualInformation approximates the mutual information of two intensity
// distributions as -0.5*log(1-r²), r being their correlation. Perfectly
// correlated data yields +Inf.
func MutualInformation(original, other []float64) float64 {
	n := len(original)
	if n != len(other) || n < 2 {
		return 0
	}
	if stat.Variance(original, nil) == 0 || stat.Variance(other, nil) == 0 {
		return 0
	}
	r := stat.Correlation(original, other, nil)
	return -0.5 * math.Log(1-r*r)
}

// Entropy computes the Shannon entropy in bits of a 256 bin histogram of data.
func Entropy(data []float64) float64 {
	n := len(data)
	if n == 0 {
		return 0
	}
	lo, hi := floats.Min(data), floats.Max(data)
	if hi <= lo {
		return 0
	}

	p := make([]float64, numBins)
	binWidth := (hi - lo) / numBins
	for _, v := range data {
		bin := int((v - lo) / binWidth)
		if bin >= numBins {
			bin = numBins - 1
		} else if bin < 0 {
			bin = 0
		}
		p[bin]++
	}
	floats.Scale(1/float64(n), p)
	return stat.Entropy(p) / math.Ln2
}
