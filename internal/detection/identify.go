package detection

import (
	"errors"
	"sort"

	"github.com/nao1215/prnuscan/internal/model"
)

// Candidate is the PCE of one image against one device fingerprint.
type Candidate struct {
	Device string
	PCE    float64
	// Err is set when the PCE could not be computed for this device.
	Err error
}

// Attribution is the result of matching an image against a set of fingerprints.
type Attribution struct {
	// Device is the device with the highest positive PCE, or "" when no
	// fingerprint produced a positive measurable PCE.
	Device string
	// PCE is the winning value.
	PCE float64
	// Candidates holds every device, sorted by descending PCE; unmeasurable ones last.
	Candidates []Candidate
}

// Identify attributes an image to the device whose fingerprint correlates
// best with it. Fingerprints whose size differs from the image are recorded
// with a shape error; unmeasurable PCEs are skipped.
func Identify(img *model.Array, fps []*model.Fingerprint, radius int) *Attribution {
	att := &Attribution{Candidates: make([]Candidate, 0, len(fps))}
	for _, fp := range fps {
		c := Candidate{Device: fp.Device}
		if !fp.Matches(img.H, img.W) {
			c.Err = model.ErrShapeMismatch
			att.Candidates = append(att.Candidates, c)
			continue
		}
		res, err := PCEOf(img, fp.K, radius)
		if err != nil {
			c.Err = err
		} else {
			c.PCE = res.Value
		}
		att.Candidates = append(att.Candidates, c)
		if err == nil && res.Value > att.PCE {
			att.PCE = res.Value
			att.Device = fp.Device
		}
	}
	sort.SliceStable(att.Candidates, func(i, j int) bool {
		ci, cj := att.Candidates[i], att.Candidates[j]
		if (ci.Err == nil) != (cj.Err == nil) {
			return ci.Err == nil
		}
		return ci.PCE > cj.PCE
	})
	return att
}

// Unmeasurable reports whether err marks a degenerate statistic.
func Unmeasurable(err error) bool {
	return errors.Is(err, ErrUnmeasurable)
}
