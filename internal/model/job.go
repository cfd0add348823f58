package model

import "time"

// Job is one unit of batch work: a single image of a single device pushed
// through an anonymization or measurement pipeline.
// Steps fill in the fields they produce; a failing step records its error
// here instead of aborting the batch.
type Job struct {
	// Device is the camera identifier.
	Device string `json:"device"`

	// Algorithm is the anonymization algorithm name.
	Algorithm string `json:"algorithm"`

	// SourcePath is the original image on disk.
	SourcePath string `json:"source_path"`

	// OutputPath is where the anonymized image is written or read from.
	OutputPath string `json:"output_path"`

	// StartedAt is when the pipeline picked up the job.
	StartedAt time.Time `json:"started_at"`

	// Original is the decoded original image, in sensor order.
	Original *Image `json:"-"`

	// Orientation is the EXIF orientation of the original, 0 when absent.
	// Anonymized files are written upright and read back into sensor order.
	Orientation int `json:"orientation,omitempty"`

	// Anonymized is the anonymized image in sensor order. Once reloaded
	// from OutputPath it holds the 8-bit image as written to disk.
	Anonymized *Array `json:"-"`

	// Outcome is set by the anonymization step.
	Outcome Outcome `json:"outcome"`

	// InitialStatistic and FinalStatistic are the search statistic before and after.
	InitialStatistic float64 `json:"initial_statistic"`
	FinalStatistic   float64 `json:"final_statistic"`

	// Iterations is the number of attack iterations spent.
	Iterations int `json:"iterations"`

	// Metrics is set by the measurement step.
	Metrics *ImageMetrics `json:"metrics,omitempty"`

	// PerformedSteps lists the steps that ran, in order.
	PerformedSteps []string `json:"performed_steps,omitempty"`

	// Skipped is true when a step decided the image does not apply
	// (for example an unsupported orientation or a missing anonymized file).
	Skipped bool `json:"skipped"`

	// TimedOut is true when the context was cancelled mid-pipeline.
	TimedOut bool `json:"timed_out"`

	// Err is the error that stopped the pipeline, if any.
	Err error `json:"-"`

	// ErrorMessage is Err rendered for serialization.
	ErrorMessage string `json:"error,omitempty"` //nolint:tagliatelle // error is conventional
}

// NewJob creates a job for one image.
func NewJob(device, algorithm, source, output string) *Job {
	return &Job{
		Device:     device,
		Algorithm:  algorithm,
		SourcePath: source,
		OutputPath: output,
		StartedAt:  time.Now(),
	}
}

// Failed reports whether the job ended with an error.
func (j *Job) Failed() bool { return j.Err != nil }
