// Package units provides byte size constants.
package units

const (
	Kb = 1 << 10
	Mb = 1 << 20
	Gb = 1 << 30
)
