package minio

import (
	"errors"
	"net/http"

	miniogo "github.com/minio/minio-go/v7"

	"github.com/koustreak/sqlexplorer/internal/errs"
)

// mapError translates a MinIO SDK error into a *errs.Error, like the
// database drivers do for their native errors.
func mapError(err error, msg string) *errs.Error {
	if err == nil {
		return nil
	}

	var e *errs.Error
	if errors.As(errs.FromContext(err), &e) {
		return errs.Wrap(e.Kind, msg, err)
	}

	var resp miniogo.ErrorResponse
	if !errors.As(err, &resp) {
		return errs.Wrap(errs.ErrKindConnectionFailed, msg, err)
	}
	if resp.Message != "" {
		msg += ": " + resp.Message
	}

	switch resp.Code {
	case "NoSuchBucket", "NoSuchKey", "NoSuchUpload":
		return errs.Wrap(errs.ErrKindNotFound, msg, err)
	case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
		return errs.Wrap(errs.ErrKindPermissionDenied, msg, err)
	case "InvalidBucketName", "InvalidObjectName", "KeyTooLongError":
		return errs.Wrap(errs.ErrKindInvalidInput, msg, err)
	case "RequestTimeout", "SlowDown":
		return errs.Wrap(errs.ErrKindTimeout, msg, err)
	}

	switch resp.StatusCode {
	case http.StatusNotFound:
		return errs.Wrap(errs.ErrKindNotFound, msg, err)
	case http.StatusForbidden, http.StatusUnauthorized:
		return errs.Wrap(errs.ErrKindPermissionDenied, msg, err)
	case http.StatusBadRequest:
		return errs.Wrap(errs.ErrKindInvalidInput, msg, err)
	}
	return errs.Wrap(errs.ErrKindQueryFailed, msg, err)
}
