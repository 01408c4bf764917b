package billing

import (
	"strings"
	"time"
)

// ContainerSize is the billing size class derived from the ISO type code.
type ContainerSize string

const (
	Size20ft ContainerSize = "20ft"
	Size40ft ContainerSize = "40ft"
	Size45ft ContainerSize = "45ft"
)

// ContainerStatus is the cargo state for the whole dwell.
type ContainerStatus string

const (
	StatusLaden ContainerStatus = "laden"
	StatusEmpty ContainerStatus = "empty"
)

// SizeFromISOType maps the first character of an ISO 6346 type code to a size.
// Unrecognized codes bill as 20ft.
func SizeFromISOType(code string) ContainerSize {
	code = strings.TrimSpace(code)
	if code == "" {
		return Size20ft
	}
	switch strings.ToUpper(code[:1]) {
	case "2":
		return Size20ft
	case "4":
		return Size40ft
	case "L", "9":
		return Size45ft
	default:
		return Size20ft
	}
}

// ParseContainerSize validates a size string.
func ParseContainerSize(value string) (ContainerSize, bool) {
	switch ContainerSize(value) {
	case Size20ft, Size40ft, Size45ft:
		return ContainerSize(value), true
	default:
		return "", false
	}
}

// ParseContainerStatus validates a status string.
func ParseContainerStatus(value string) (ContainerStatus, bool) {
	switch ContainerStatus(value) {
	case StatusLaden, StatusEmpty:
		return ContainerStatus(value), true
	default:
		return "", false
	}
}

// Dwell is one stay of a container on the terminal.
// A zero ExitTime means the container is still on the terminal.
type Dwell struct {
	ContainerID     string
	ContainerNumber string
	CompanyID       string
	ISOType         string
	Status          ContainerStatus
	EntryTime       time.Time
	ExitTime        time.Time
}

// Size returns the billing size derived from the ISO type.
func (d Dwell) Size() ContainerSize { return SizeFromISOType(d.ISOType) }

// Active reports whether the container has not exited.
func (d Dwell) Active() bool { return d.ExitTime.IsZero() }

// Span returns the billable [start, end) dates; active dwells end at asOf.
func (d Dwell) Span(asOf time.Time) (time.Time, time.Time, error) {
	if d.EntryTime.IsZero() {
		return time.Time{}, time.Time{}, ErrInvalidDwell
	}
	start := DateOf(d.EntryTime)
	end := DateOf(d.ExitTime)
	if d.Active() {
		if asOf.IsZero() {
			return time.Time{}, time.Time{}, ErrInvalidDwell
		}
		end = DateOf(asOf)
		if end.Before(start) {
			end = start
		}
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, ErrInvalidDwell
	}
	return start, end, nil
}

// ExitedIn reports whether the dwell exited within [from, to).
func (d Dwell) ExitedIn(from, to time.Time) bool {
	if d.Active() {
		return false
	}
	exit := DateOf(d.ExitTime)
	return !exit.Before(from) && exit.Before(to)
}

// Company is the billing party of a dwell.
type Company struct {
	ID            string
	Name          string
	BillingMethod BillingMethod
}
