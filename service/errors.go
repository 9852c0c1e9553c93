package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	neturl "net/url"
	"syscall"
	"time"

	"google.golang.org/api/googleapi"
)

type errTmpIf interface{ Temporary() bool }
type errTmp struct{ error }

func (t errTmp) Temporary() bool    { return true }
func (t *errTmp) Unwrap() error     { return t.error }
func MakeTemporary(err error) error { return &errTmp{err} }

type errFatalIf interface{ Fatal() bool }
type errFatal struct{ error }

func (t errFatal) Fatal() bool    { return true }
func (t *errFatal) Unwrap() error { return t.error }
func MakeFatal(err error) error   { return &errFatal{err} }

// ErrRateLimited is returned when the upstream throttles the client.
// It is temporary; RetryAfter is the server-specified delay (0 if none).
type ErrRateLimited struct {
	RetryAfter time.Duration
}

func (e ErrRateLimited) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited (retry after %s)", e.RetryAfter)
	}
	return "rate limited"
}

func (e ErrRateLimited) Temporary() bool { return true }

// Temporary inspects the error trace and returns whether the error is transient
func Temporary(err error) bool {
	var uerr *neturl.Error
	if errors.As(err, &uerr) {
		err = uerr.Err
	}

	//First override some default syscall temporary statuses
	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.EIO, syscall.EBUSY, syscall.ECANCELED, syscall.ECONNABORTED, syscall.ECONNRESET, syscall.ENOMEM, syscall.EPIPE:
			return true
		}
	}

	//first check explicitely marked error
	var tmp errTmpIf
	if errors.As(err, &tmp) {
		return tmp.Temporary()
	}
	var gapiError *googleapi.Error
	if errors.As(err, &gapiError) {
		return gapiError.Code == 429 || gapiError.Code == 500
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return false
}

// Fatal inspects the error and returns whether it's a fatal error
func Fatal(err error) bool {
	var tmp errFatalIf
	if errors.As(err, &tmp) {
		return tmp.Fatal()
	}
	return false
}

// RateLimited returns the ErrRateLimited of the error trace, if any
func RateLimited(err error) (ErrRateLimited, bool) {
	var rl ErrRateLimited
	ok := errors.As(err, &rl)
	return rl, ok
}

// Retriable runs f until it succeeds or returns a permanent error, retrying
// temporary errors up to attempts times with an exponential backoff starting
// at delay, with jitter. Rate-limited errors wait the server-specified delay
// instead when one is provided.
func Retriable(ctx context.Context, f func() error, delay time.Duration, attempts int) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = f(); err == nil || Fatal(err) || !Temporary(err) {
			return err
		}
		if ctx.Err() != nil || i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return MergeErrors(true, err, ctx.Err())
		case <-time.After(backoffDelay(delay, i, err)):
		}
	}
	return err
}

// backoffDelay returns delay<<attempt with a jitter in [1/2, 3/2), unless the
// error carries a server-specified retry delay
func backoffDelay(delay time.Duration, attempt int, err error) time.Duration {
	if rl, ok := RateLimited(err); ok && rl.RetryAfter > 0 {
		return rl.RetryAfter
	}
	wait := delay << attempt
	return wait/2 + time.Duration(rand.Int63n(int64(wait)))
}

// MergeErrors, appending texts
// if priorityToErr is true, priority to the fatal error then to the temporary
// else, priority to no error, then to the temporary and finally to the fatal error.
func MergeErrors(priorityToError bool, err error, newErrs ...error) error {
	if len(newErrs) == 0 {
		return err
	}
	newErr := newErrs[0]

	if newErr == nil {
		if !priorityToError {
			return nil
		}
	} else if err == nil {
		err = newErr
	} else if priorityToError != Temporary(err) {
		err = fmt.Errorf("%w\n %v", err, newErr)
	} else {
		err = fmt.Errorf("%w\n %v", newErr, err)
	}
	return MergeErrors(priorityToError, err, newErrs[1:]...)
}
