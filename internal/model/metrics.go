package model

import "time"

// ImageMetrics holds the detection and quality measurements for one
// (original, anonymized) image pair.
type ImageMetrics struct {
	// File is the image base name.
	File string `json:"file"`

	// Device is the camera the image was taken with.
	Device string `json:"device"`

	// Algorithm is the anonymization algorithm that produced the pair.
	Algorithm string `json:"algorithm"`

	// PSNR is the peak signal-to-noise ratio of the anonymized image in dB.
	PSNR float64 `json:"psnr"`

	// InitialPCE is the PCE of the original image against the device fingerprint.
	InitialPCE float64 `json:"initial_pce"`

	// FinalPCE is the PCE of the anonymized image.
	FinalPCE float64 `json:"pce"`

	// InitialCCN is the CCN of the original image.
	InitialCCN float64 `json:"initial_ccn"`

	// FinalCCN is the CCN of the anonymized image.
	FinalCCN float64 `json:"ccn"`

	// Unmeasurable lists the statistics that could not be computed
	// (for example "pce" when the correlation floor was zero).
	Unmeasurable []string `json:"unmeasurable,omitempty"`

	// Outcome is the anonymization outcome, when known.
	Outcome Outcome `json:"outcome"`

	// Iterations is the number of search iterations spent.
	Iterations int `json:"iterations"`

	// InitialStatistic and FinalStatistic are the values of the statistic the
	// attack was gated on, before and after anonymization.
	InitialStatistic float64 `json:"initial_statistic"`
	FinalStatistic   float64 `json:"final_statistic"`

	// MeasuredAt is when the metrics were computed.
	MeasuredAt time.Time `json:"measured_at"`
}

// DeviceSummary aggregates the metrics of one device under one algorithm.
type DeviceSummary struct {
	Device    string          `json:"device"`
	Algorithm string          `json:"algorithm"`
	Images    int             `json:"images"`
	MeanPSNR  float64         `json:"mean_psnr"`
	MeanPCE   float64         `json:"mean_pce"`
	MeanCCN   float64         `json:"mean_ccn"`
	Outcomes  map[Outcome]int `json:"outcomes"`
}

// Summarize builds a DeviceSummary from per-image metrics.
// Unmeasurable statistics are left out of the corresponding mean.
func Summarize(device, algorithm string, ms []ImageMetrics) DeviceSummary {
	s := DeviceSummary{Device: device, Algorithm: algorithm, Images: len(ms), Outcomes: make(map[Outcome]int)}
	var npce, nccn int
	for _, m := range ms {
		s.MeanPSNR += m.PSNR
		if !m.isUnmeasurable("pce") {
			s.MeanPCE += m.FinalPCE
			npce++
		}
		if !m.isUnmeasurable("ccn") {
			s.MeanCCN += m.FinalCCN
			nccn++
		}
		s.Outcomes[m.Outcome]++
	}
	if len(ms) > 0 {
		s.MeanPSNR /= float64(len(ms))
	}
	if npce > 0 {
		s.MeanPCE /= float64(npce)
	}
	if nccn > 0 {
		s.MeanCCN /= float64(nccn)
	}
	return s
}

func (m ImageMetrics) isUnmeasurable(name string) bool {
	for _, u := range m.Unmeasurable {
		if u == name {
			return true
		}
	}
	return false
}
