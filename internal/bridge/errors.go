package bridge

import (
	"errors"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// Kind partitions bridge failures by how the caller should react.
type Kind int

const (
	// KindGeneric covers every failure with no more specific classification.
	KindGeneric Kind = iota

	// KindRateLimited means the provider throttled the credential. The
	// condition is recoverable by the caller (retry later, upgrade plan)
	// and maps to a distinct client-visible status.
	KindRateLimited

	// KindNotFound means the object or bucket does not exist.
	KindNotFound
)

// Sentinel errors for implementations that do not wrap provider SDKs.
var (
	ErrRateLimited = errors.New("bridge rate limit")
	ErrNotFound    = errors.New("bridge object not found")
)

// Classify inspects a bridge failure and returns its kind. Rate limiting
// is distinguished from everything else because it changes the
// client-visible status; there is no retry at this layer.
func Classify(err error) Kind {
	if err == nil {
		return KindGeneric
	}

	if errors.Is(err, ErrRateLimited) {
		return KindRateLimited
	}
	if errors.Is(err, ErrNotFound) {
		return KindNotFound
	}

	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return KindNotFound
	}
	var noSuchBucket *types.NoSuchBucket
	if errors.As(err, &noSuchBucket) {
		return KindNotFound
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "SlowDown", "TooManyRequests", "RequestLimitExceeded", "Throttling", "ThrottlingException":
			return KindRateLimited
		case "NoSuchKey", "NoSuchBucket", "NotFound":
			return KindNotFound
		}
	}

	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.HTTPStatusCode() {
		case 429, 402:
			return KindRateLimited
		case 404:
			return KindNotFound
		}
	}

	return KindGeneric
}
