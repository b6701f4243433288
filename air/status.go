package air

import "strings"

// ErrorStatus is the raw error status register of the sensor.
type ErrorStatus uint16

// BitValue is a status bit and its description
type BitValue struct {
	value       ErrorStatus
	description string
}

const (
	StatusFatal              ErrorStatus = 1 << 0
	StatusI2C                ErrorStatus = 1 << 1
	StatusAlgorithm          ErrorStatus = 1 << 2
	StatusCalibration        ErrorStatus = 1 << 3
	StatusSelfDiagnostics    ErrorStatus = 1 << 4
	StatusOutOfRange         ErrorStatus = 1 << 5
	StatusMemory             ErrorStatus = 1 << 6
	StatusNoMeasurement      ErrorStatus = 1 << 7
	StatusLowVoltage         ErrorStatus = 1 << 8
	StatusMeasurementTimeout ErrorStatus = 1 << 9
	StatusAbnormalSignal     ErrorStatus = 1 << 10
	StatusScaleFactor        ErrorStatus = 1 << 15
)

var statusBits = []BitValue{
	{StatusFatal, "fatal error"},
	{StatusI2C, "I2C error"},
	{StatusAlgorithm, "algorithm error"},
	{StatusCalibration, "calibration error"},
	{StatusSelfDiagnostics, "self-diagnostics error"},
	{StatusOutOfRange, "out of range"},
	{StatusMemory, "memory error"},
	{StatusNoMeasurement, "no measurement completed"},
	{StatusLowVoltage, "low internal regulated voltage"},
	{StatusMeasurementTimeout, "measurement timeout"},
	{StatusAbnormalSignal, "abnormal signal level"},
	{StatusScaleFactor, "scale factor error"},
}

// IsSet returns true if any of the given bits is set
func (s ErrorStatus) IsSet(bits ErrorStatus) bool {
	return s&bits != 0
}

// Descriptions lists the known bits set in s. Unknown bits are ignored.
func (s ErrorStatus) Descriptions() []string {
	list := make([]string, 0)
	for _, bv := range statusBits {
		if s&bv.value != 0 {
			list = append(list, bv.description)
		}
	}
	return list
}

func (s ErrorStatus) String() string {
	if s == 0 {
		return "ok"
	}
	return strings.Join(s.Descriptions(), ", ")
}
