package errs

import "fmt"

// ErrPanic converts a recovered panic value into a coded error.
func ErrPanic(r any) error {
	if r == nil {
		return nil
	}
	return ErrInternal.WrapMsg("panic", "recovered", fmt.Sprint(r))
}
