package calibrator

var (
	ErrInsufficientFrames = &calibrationError{"not enough captured frames to calibrate"}
	ErrPatternNotFound    = &calibrationError{"calibration pattern not fully visible"}
	ErrAborted            = &calibrationError{"calibration aborted"}
	ErrSessionUsed        = &calibrationError{"calibration session already ran"}
)

type calibrationError struct{ msg string }

func (e *calibrationError) Error() string { return e.msg }
