package gpumem

import (
	cerrors "github.com/cockroachdb/errors"
)

type Number interface {
	~int | ~uint
}

func CheckPow2[T Number](number T, name string) error {
	if number == 0 || number&(number-1) != 0 {
		return cerrors.Wrapf(ErrNotPowerOfTwo, "%s is %d", name, number)
	}
	return nil
}

func AlignUp(value int, alignment uint) int {
	return (value + int(alignment) - 1) & int(^(alignment - 1))
}

func AlignDown(value int, alignment uint) int {
	return value & int(^(alignment - 1))
}

// RoundUpToMultiple rounds value up to the nearest multiple of granularity,
// which does not need to be a power of two.
func RoundUpToMultiple(value int, granularity int) int {
	if granularity <= 1 {
		return value
	}
	return (value + granularity - 1) / granularity * granularity
}
