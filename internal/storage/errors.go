package storage

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/voyagehub/assetsync/internal/common"
)

// classify wraps a remote store error into the common taxonomy. Errors that
// fit no kind are wrapped with op only.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if kind := kindOf(err); kind != nil {
		return common.NewOpError(op, kind, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func kindOf(err error) error {
	if k := common.KindOf(err); k != nil {
		return k
	}

	var (
		noSuchKey    *types.NoSuchKey
		notFound     *types.NotFound
		noSuchBucket *types.NoSuchBucket
	)
	switch {
	case errors.As(err, &noSuchKey), errors.As(err, &notFound), errors.As(err, &noSuchBucket):
		return common.ErrNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return common.ErrNetworkTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return common.ErrNetworkTimeout
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchBucket":
			return common.ErrNotFound
		case "AccessDenied", "AllAccessDisabled", "AccessControlListNotSupported", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return common.ErrPermissionDenied
		case "SlowDown", "Throttling", "ThrottlingException", "TooManyRequests", "RequestLimitExceeded":
			return common.ErrRateLimited
		case "RequestTimeout":
			return common.ErrNetworkTimeout
		}
	}

	var status interface{ HTTPStatusCode() int }
	if errors.As(err, &status) {
		switch status.HTTPStatusCode() {
		case 403:
			return common.ErrPermissionDenied
		case 404:
			return common.ErrNotFound
		case 429, 503:
			return common.ErrRateLimited
		case 408, 504:
			return common.ErrNetworkTimeout
		}
	}
	return nil
}

// isConditionFailed reports a failed If-None-Match precondition, meaning the
// object already exists.
func isConditionFailed(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "PreconditionFailed", "ConditionalRequestConflict":
			return true
		}
	}
	var status interface{ HTTPStatusCode() int }
	if errors.As(err, &status) {
		return status.HTTPStatusCode() == 412
	}
	return false
}
