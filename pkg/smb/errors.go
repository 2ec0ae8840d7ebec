// Package smb uploads files to the Windows share through a small pool of
// NTLMv2 sessions, retrying transient failures with an escalating backoff.
package smb

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/hirochachacha/go-smb2"

	"github.com/platinummonkey/ptbhub/pkg/apperrors"
)

// NTSTATUS codes the client reacts to
const (
	StatusSharingViolation    uint32 = 0xC0000043
	StatusObjectNameCollision uint32 = 0xC0000035
)

// FileSharingViolation is returned when the remote file stays open by
// another user for every attempt
type FileSharingViolation struct {
	Path string
	Err  error
}

func (e *FileSharingViolation) Error() string {
	return fmt.Sprintf("file %s is open by another user: %v", e.Path, e.Err)
}

func (e *FileSharingViolation) Unwrap() error { return e.Err }

func ntStatus(err error) (uint32, bool) {
	var re *smb2.ResponseError
	if errors.As(err, &re) {
		return re.Code, true
	}
	return 0, false
}

// IsSharingViolation reports whether err carries STATUS_SHARING_VIOLATION
func IsSharingViolation(err error) bool {
	if err == nil {
		return false
	}
	var fsv *FileSharingViolation
	if errors.As(err, &fsv) {
		return true
	}
	if code, ok := ntStatus(err); ok {
		return code == StatusSharingViolation
	}
	msg := strings.ToUpper(err.Error())
	return strings.Contains(msg, "0XC0000043") || strings.Contains(msg, "SHARING_VIOLATION")
}

func isExist(err error) bool {
	if errors.Is(err, fs.ErrExist) {
		return true
	}
	code, ok := ntStatus(err)
	return ok && code == StatusObjectNameCollision
}

// classify converts the last attempt's error into the error callers see
func classify(path string, err error) error {
	if err == nil {
		return nil
	}
	if IsSharingViolation(err) {
		return apperrors.Wrap(apperrors.KindSharingViolation, apperrors.CodeFileInUse,
			&FileSharingViolation{Path: path, Err: err},
			"The file is open by another user. Close it and try again.")
	}
	if _, ok := apperrors.As(err); ok {
		return err
	}
	return apperrors.Wrap(apperrors.KindTransport, "smb_error", err, "file share operation failed")
}
