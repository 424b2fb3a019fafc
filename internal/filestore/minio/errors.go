package minio

import (
	"context"
	"errors"
	"net/http"

	"github.com/koustreak/pistas/internal/errs"
	minioErr "github.com/minio/minio-go/v7"
)

// mapError translates a MinIO SDK error into a *errs.Error.
// It mirrors the mapStatus pattern used in the b2 driver.
func mapError(err error, msg string) *errs.Error {
	if err == nil {
		return nil
	}

	// Context cancellation / deadline
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errs.Wrap(errs.ErrKindTimeout, msg, err)
	}

	// MinIO SDK exposes a typed ErrorResponse for S3-protocol errors
	var resp minioErr.ErrorResponse
	if errors.As(err, &resp) {
		switch resp.StatusCode {
		case http.StatusNotFound:
			return errs.WrapStatus(errs.ErrKindNotFound, resp.StatusCode, msg, err)
		case http.StatusForbidden, http.StatusUnauthorized:
			return errs.WrapStatus(errs.ErrKindAuth, resp.StatusCode, msg, err)
		case http.StatusBadRequest, http.StatusRequestedRangeNotSatisfiable:
			return errs.WrapStatus(errs.ErrKindInvalidInput, resp.StatusCode, msg, err)
		}

		// S3 error codes that may arrive without a telling status
		switch resp.Code {
		case "NoSuchBucket", "NoSuchKey":
			return errs.Wrap(errs.ErrKindNotFound, msg, err)
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return errs.Wrap(errs.ErrKindAuth, msg, err)
		case "InvalidBucketName", "InvalidObjectName", "KeyTooLongError", "InvalidRange":
			return errs.Wrap(errs.ErrKindInvalidInput, msg, err)
		}
	}

	// Anything else — throttling, 5xx, connection failure
	return errs.Wrap(errs.ErrKindRemoteUnavailable, msg, err)
}
