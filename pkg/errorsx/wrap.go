package errorsx

import (
	"errors"
	"log/slog"
)

// ReasonedError tags a failure with the stage that produced it.
type ReasonedError struct {
	Err    error
	Reason ReasonCode
}

func (e ReasonedError) Error() string {
	if e.Err == nil {
		return string(e.Reason)
	}
	return e.Err.Error()
}

func (e ReasonedError) Unwrap() error { return e.Err }

// Wrap attaches reason to err. The first reason attached wins, so a rate
// limit tagged by the provider layer is not relabeled by the caller.
func Wrap(err error, reason ReasonCode) error {
	if err == nil {
		return nil
	}
	var re ReasonedError
	if errors.As(err, &re) {
		return err
	}
	return ReasonedError{Err: err, Reason: reason}
}

// Reason returns the outermost reason found in err's tree, or
// ReasonUnknown.
func Reason(err error) ReasonCode {
	if rs := Reasons(err); len(rs) > 0 {
		return rs[0]
	}
	return ReasonUnknown
}

// Reasons lists every reason in err's tree, depth first. Joined errors
// (e.g. from a turn that failed in both TTS and persistence) contribute
// one reason each.
func Reasons(err error) []ReasonCode {
	var out []ReasonCode
	var walk func(error)
	walk = func(err error) {
		switch e := err.(type) {
		case nil:
			return
		case ReasonedError:
			out = append(out, e.Reason)
			walk(e.Err)
		case interface{ Unwrap() []error }:
			for _, inner := range e.Unwrap() {
				walk(inner)
			}
		case interface{ Unwrap() error }:
			walk(e.Unwrap())
		}
	}
	walk(err)
	return out
}

// HasReason reports whether reason appears anywhere in err's tree.
func HasReason(err error, reason ReasonCode) bool {
	for _, r := range Reasons(err) {
		if r == reason {
			return true
		}
	}
	return false
}

// Attr is the reason_code log attribute for err.
func Attr(err error) slog.Attr {
	return slog.String("reason_code", string(Reason(err)))
}
