// Package values provides pointer-of-value helpers for the optional fields
// of filters and options.
package values

import (
	"time"
)

// ToUintPointer returns a pointer to the uint value passed in.
func ToUintPointer(v uint) *uint {
	return &v
}

// ToIntPointer returns a pointer to the int value passed in.
func ToIntPointer(v int) *int {
	return &v
}

// ToUint16Pointer returns a pointer to the uint16 value passed in.
func ToUint16Pointer(v uint16) *uint16 {
	return &v
}

// ToInt64Pointer returns a pointer to the int64 value passed in.
func ToInt64Pointer(v int64) *int64 {
	return &v
}

// ToStringPointer returns a pointer to the string value passed in.
func ToStringPointer(v string) *string {
	return &v
}

// ToDurationPointer returns a pointer to the time.Duration value passed in.
func ToDurationPointer(v time.Duration) *time.Duration {
	return &v
}

// ToTimePointer returns a pointer to the time.Time value passed in.
func ToTimePointer(v time.Time) *time.Time {
	return &v
}

// ToBytesPointer returns a pointer to the []byte value passed in.
func ToBytesPointer(v []byte) *[]byte {
	return &v
}
