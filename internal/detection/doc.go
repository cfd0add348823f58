// Package detection turns correlation evidence into scalar decision
// statistics: the peak-to-correlation-energy ratio (PCE) of a 2-D
// correlation map and the cross-correlation norm (CCN) of two signals.
//
// Degenerate inputs never produce infinities; they return ErrUnmeasurable.
package detection
