// Package history is the read side of the recorder.
//
// Engine answers four questions against committed history:
//
//   - GetState / GetStates: what was the state at time T (inclusive)
//   - StateChangesDuringPeriod: every record in [start, end)
//   - LastNStates: the most recent committed records, newest first
//   - GetSignificantStates: a period with attribute-only churn removed
//
// Significance is decided per domain by a Classifier. Most domains are
// StateOnly; domains listed as attribute-significant keep every record.
//
// Store failures never reach the caller. They are logged and the result is
// empty, the same as for an entity with no history.
package history
