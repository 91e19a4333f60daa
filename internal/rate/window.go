package rate

import "time"

// Window is one fixed window of a category.
type Window struct {
	Bucket int64
	Start  time.Time
	End    time.Time
}

// WindowAt returns the window containing t for the given window length.
// length must be at least one millisecond.
func WindowAt(t time.Time, length time.Duration) Window {
	ms := length.Milliseconds()
	bucket := floorDiv(t.UnixMilli(), ms)
	return Window{
		Bucket: bucket,
		Start:  time.UnixMilli(bucket * ms),
		End:    time.UnixMilli((bucket + 1) * ms),
	}
}

// ResetAtMillis returns the epoch millisecond at which the window ends.
func (w Window) ResetAtMillis() int64 {
	return w.End.UnixMilli()
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
