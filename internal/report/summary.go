package report

import (
	"slices"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/nao1215/prnuscan/internal/model"
)

// Comparison metrics for algorithm wins. For PCE and CCN the score is the
// drop from the initial value; for PSNR it is the value itself. Higher wins.
const (
	MetricPSNR = "psnr"
	MetricPCE  = "pce"
	MetricCCN  = "ccn"
)

// Metrics lists the comparison metrics in display order.
func Metrics() []string {
	return []string{MetricPSNR, MetricPCE, MetricCCN}
}

// Attribution is one identification result: the device an image came from
// and the device the detector picked ("" when none crossed the threshold).
type Attribution struct {
	TrueDevice string `json:"true_device"`
	Predicted  string `json:"predicted"`
}

// Wins counts, for one metric, how often each algorithm scored strictly
// better than every other algorithm on the same image.
type Wins struct {
	Metric string `json:"metric"`

	// Images is the number of images every algorithm has a score for.
	// Ties count here but not as a win.
	Images int `json:"images"`

	ByAlgorithm map[string]int `json:"by_algorithm"`
}

// Percent returns the share of images won by algorithm, in percent.
func (w Wins) Percent(algorithm string) float64 {
	if w.Images == 0 {
		return 0
	}
	return 100 * float64(w.ByAlgorithm[algorithm]) / float64(w.Images)
}

// Identification summarizes source camera identification results.
type Identification struct {
	Total   int `json:"total"`
	Correct int `json:"correct"`

	// Unattributed counts images for which no device crossed the threshold.
	Unattributed int `json:"unattributed"`

	// Confusion maps true device to predicted device to count.
	Confusion map[string]map[string]int `json:"confusion"`
}

// Accuracy returns the fraction of correctly attributed images.
func (id *Identification) Accuracy() float64 {
	if id.Total == 0 {
		return 0
	}
	return float64(id.Correct) / float64(id.Total)
}

// Summary is the report of one experiment.
type Summary struct {
	GeneratedAt time.Time `json:"generated_at"`

	// Algorithms lists the algorithms present, in display order.
	Algorithms []string `json:"algorithms"`

	// Devices lists the devices present, sorted.
	Devices []string `json:"devices"`

	// Groups holds one entry per (algorithm, device), ordered by algorithm
	// then device.
	Groups []model.DeviceSummary `json:"groups"`

	// Outcomes totals the anonymization outcomes per algorithm.
	Outcomes map[string]map[model.Outcome]int `json:"outcomes"`

	Wins []Wins `json:"wins"`

	Identification *Identification `json:"identification,omitempty"`
}

// NewSummary builds a Summary from per-image metrics and, optionally,
// identification results.
func NewSummary(ms []model.ImageMetrics, attrs []Attribution) *Summary {
	s := &Summary{
		GeneratedAt: time.Now(),
		Outcomes:    make(map[string]map[model.Outcome]int),
	}

	type groupKey struct{ algorithm, device string }
	groups := make(map[groupKey][]model.ImageMetrics)
	for _, m := range ms {
		k := groupKey{m.Algorithm, m.Device}
		groups[k] = append(groups[k], m)
		if !slices.Contains(s.Algorithms, m.Algorithm) {
			s.Algorithms = append(s.Algorithms, m.Algorithm)
		}
		if !slices.Contains(s.Devices, m.Device) {
			s.Devices = append(s.Devices, m.Device)
		}
		if s.Outcomes[m.Algorithm] == nil {
			s.Outcomes[m.Algorithm] = make(map[model.Outcome]int)
		}
		s.Outcomes[m.Algorithm][m.Outcome]++
	}
	slices.SortFunc(s.Algorithms, compareAlgorithms)
	slices.Sort(s.Devices)

	for _, a := range s.Algorithms {
		for _, d := range s.Devices {
			if g, ok := groups[groupKey{a, d}]; ok {
				s.Groups = append(s.Groups, model.Summarize(d, a, g))
			}
		}
	}

	if len(s.Algorithms) > 1 {
		for _, metric := range Metrics() {
			s.Wins = append(s.Wins, CountWins(ms, s.Algorithms, metric))
		}
	}

	if len(attrs) > 0 {
		s.Identification = NewIdentification(attrs)
	}
	return s
}

// CountWins compares algorithms image by image on one metric.
// Only images that every algorithm in algorithms has a measurable score for
// are counted; a tie for the best score is nobody's win.
func CountWins(ms []model.ImageMetrics, algorithms []string, metric string) Wins {
	type imageKey struct{ device, file string }
	scores := make(map[imageKey]map[string]float64)
	for _, m := range ms {
		v, ok := score(m, metric)
		if !ok {
			continue
		}
		k := imageKey{m.Device, m.File}
		if scores[k] == nil {
			scores[k] = make(map[string]float64)
		}
		scores[k][m.Algorithm] = v
	}

	w := Wins{Metric: metric, ByAlgorithm: make(map[string]int)}
	for _, a := range algorithms {
		w.ByAlgorithm[a] = 0
	}
	for _, byAlg := range scores {
		complete := true
		for _, a := range algorithms {
			if _, ok := byAlg[a]; !ok {
				complete = false
				break
			}
		}
		if !complete {
			continue
		}
		w.Images++

		best, winners := 0.0, []string(nil)
		for _, a := range algorithms {
			v := byAlg[a]
			switch {
			case winners == nil || v > best:
				best, winners = v, []string{a}
			case v == best:
				winners = append(winners, a)
			}
		}
		if len(winners) == 1 {
			w.ByAlgorithm[winners[0]]++
		}
	}
	return w
}

func score(m model.ImageMetrics, metric string) (float64, bool) {
	switch metric {
	case MetricPSNR:
		return m.PSNR, true
	case MetricPCE:
		if slices.Contains(m.Unmeasurable, "initial_pce") || slices.Contains(m.Unmeasurable, "pce") {
			return 0, false
		}
		return m.InitialPCE - m.FinalPCE, true
	case MetricCCN:
		if slices.Contains(m.Unmeasurable, "initial_ccn") || slices.Contains(m.Unmeasurable, "ccn") {
			return 0, false
		}
		return m.InitialCCN - m.FinalCCN, true
	default:
		return 0, false
	}
}

// NewIdentification builds the confusion counts of attrs.
func NewIdentification(attrs []Attribution) *Identification {
	id := &Identification{Confusion: make(map[string]map[string]int)}
	for _, a := range attrs {
		id.Total++
		switch {
		case a.Predicted == "":
			id.Unattributed++
		case a.Predicted == a.TrueDevice:
			id.Correct++
		}
		if id.Confusion[a.TrueDevice] == nil {
			id.Confusion[a.TrueDevice] = make(map[string]int)
		}
		id.Confusion[a.TrueDevice][a.Predicted]++
	}
	return id
}

// knownOrder ranks the built-in algorithms; others sort after them by name.
var knownOrder = map[string]int{
	"fingerprint_removal": 0,
	"median_filtering":    1,
	"adp2":                2,
}

func compareAlgorithms(a, b string) int {
	ra, oka := knownOrder[a]
	rb, okb := knownOrder[b]
	switch {
	case oka && okb:
		return ra - rb
	case oka:
		return -1
	case okb:
		return 1
	default:
		return strings.Compare(a, b)
	}
}

// DisplayName turns an algorithm name into a title, e.g.
// "fingerprint_removal" into "Fingerprint Removal". ADP2 is kept upper case.
func DisplayName(algorithm string) string {
	if strings.EqualFold(algorithm, "adp2") {
		return "ADP2"
	}
	return cases.Title(language.English).String(strings.ReplaceAll(algorithm, "_", " "))
}
