// Package calibration defines the types used by the interactive camera
// calibration workflow. It contains:
//
//   - Phase: the discrete states of the capture state machine
//   - Action: the user commands that drive it
//   - BoardGeometry: the checkerboard the user holds up to the camera
//   - Status: a snapshot of a running session, used by the CLI and tests
//
// The state machine itself lives in package calibrator.
package calibration
