package pipeline

import (
	"errors"
	"fmt"
)

// Stage identifies the pipeline step an error came from
type Stage string

const (
	StageAcquisition  Stage = "acquisition"
	StageConversion   Stage = "conversion"
	StageCalibration  Stage = "calibration"
	StageQuantization Stage = "quantization"
	StagePublication  Stage = "publication"
)

// Sentinels matched by errors.Is against a *StageError
var (
	ErrAcquisition  = errors.New("acquisition failed")
	ErrConversion   = errors.New("conversion failed")
	ErrCalibration  = errors.New("calibration failed")
	ErrQuantization = errors.New("quantization failed")
	ErrPublication  = errors.New("publication failed")
)

var stageSentinels = map[Stage]error{
	StageAcquisition:  ErrAcquisition,
	StageConversion:   ErrConversion,
	StageCalibration:  ErrCalibration,
	StageQuantization: ErrQuantization,
	StagePublication:  ErrPublication,
}

// StageError wraps the failure of one stage. Tag is set for quantization
// failures.
type StageError struct {
	Stage Stage
	Tag   string
	Err   error
}

func (e *StageError) Error() string {
	if e.Tag != "" {
		return fmt.Sprintf("%s of %s failed: %v", e.Stage, e.Tag, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the failed stage
func (e *StageError) Is(target error) bool {
	return stageSentinels[e.Stage] == target
}

func stageErr(stage Stage, err error) error {
	return &StageError{Stage: stage, Err: err}
}
