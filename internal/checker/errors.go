package checker

import (
	"errors"
	"net"
	"syscall"

	"linkcheck/internal/models"
)

// classifyTransportError maps a failed probe onto the error taxonomy.
// Timeouts are reported as ETIMEDOUT so they sort with other socket errors.
func classifyTransportError(err error) (kind string, code int, detail string) {
	detail = err.Error()

	if errors.Is(err, ErrTooManyRedirects) {
		return models.ErrorKindTooManyRedirects, 0, detail
	}
	if errors.Is(err, ErrInvalidURL) {
		return models.ErrorKindUnparseableURI, 0, detail
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		return models.ErrorKindTransportErrno, int(errno), errno.Error()
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return models.ErrorKindTransportErrno, int(syscall.ETIMEDOUT), detail
	}

	return models.ErrorKindUnknown, 0, detail
}
