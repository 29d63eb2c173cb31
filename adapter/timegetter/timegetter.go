// Package timegetter contains the default [domain.TimeGetter] implementation.
package timegetter

import (
	"time"

	"satchel/domain"
)

// TimeGetter implements [domain.TimeGetter].
type TimeGetter struct{}

// New returns a new [domain.TimeGetter].
func New() domain.TimeGetter {
	return &TimeGetter{}
}

// Now implements [domain.TimeGetter].
func (t *TimeGetter) Now() time.Time {
	return time.Now()
}
