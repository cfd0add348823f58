package model

import "errors"

// Shape precondition errors shared by every numeric package.
// Callers wrap them with the offending shapes and test with errors.Is.
var (
	// ErrShapeMismatch is returned when two arrays must have the same height and width.
	ErrShapeMismatch = errors.New("shape mismatch")

	// ErrRankMismatch is returned when two arrays must have the same rank.
	ErrRankMismatch = errors.New("rank mismatch")

	// ErrChannelMismatch is returned when two rank-3 arrays must have the same channel count.
	ErrChannelMismatch = errors.New("channel count mismatch")
)
