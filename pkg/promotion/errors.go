package promotion

import "errors"

var (
	// ErrRejected means the server refused or failed the promote command
	ErrRejected = errors.New("promotion command rejected")
	// ErrTimeout means the standby did not leave recovery within the bound
	ErrTimeout = errors.New("promotion timed out")
	// ErrAlreadyAttempted guards against a second promote in one run
	ErrAlreadyAttempted = errors.New("promotion already attempted")
)
