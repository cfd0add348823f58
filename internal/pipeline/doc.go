// Package pipeline runs images through sequences of steps.
//
// A Job carries one image of one device through loading, anonymization,
// saving and measurement. Each stage is a Step that reads what earlier
// steps left on the job and adds its own results; a step that decides the
// image does not apply marks the job skipped and the rest of the pipeline
// is not run.
//
// BatchProcessor runs many jobs concurrently, each through a fresh pipeline,
// with errgroup bounding the number in flight.
package pipeline
