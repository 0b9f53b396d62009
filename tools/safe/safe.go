package safe

import (
	"CordProject/logger"
	"CordProject/tools/errs"
)

// Go starts a goroutine that recovers from panic, so a misbehaving
// listener or background loop cannot take down the process.
func Go(f func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("[safe.Go] %v", errs.ErrPanic(r))
			}
		}()
		f()
	}()
}

// Call invokes f on the current goroutine with the same panic guard and
// returns the recovered panic as an error, if any.
func Call(f func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errs.ErrPanic(r)
		}
	}()
	f()
	return nil
}
