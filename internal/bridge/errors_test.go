package bridge

import (
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

func TestClassifySentinels(t *testing.T) {
	if got := Classify(ErrRateLimited); got != KindRateLimited {
		t.Errorf("ErrRateLimited: got %v", got)
	}
	if got := Classify(fmt.Errorf("fetch: %w", ErrRateLimited)); got != KindRateLimited {
		t.Errorf("wrapped ErrRateLimited: got %v", got)
	}
	if got := Classify(ErrNotFound); got != KindNotFound {
		t.Errorf("ErrNotFound: got %v", got)
	}
	if got := Classify(errors.New("disk on fire")); got != KindGeneric {
		t.Errorf("generic: got %v", got)
	}
	if got := Classify(nil); got != KindGeneric {
		t.Errorf("nil: got %v", got)
	}
}

func TestClassifyS3Errors(t *testing.T) {
	noSuchKey := &types.NoSuchKey{}
	if got := Classify(fmt.Errorf("get object: %w", noSuchKey)); got != KindNotFound {
		t.Errorf("NoSuchKey: got %v", got)
	}

	slowDown := &smithy.GenericAPIError{Code: "SlowDown", Message: "reduce request rate"}
	if got := Classify(fmt.Errorf("get object: %w", slowDown)); got != KindRateLimited {
		t.Errorf("SlowDown: got %v", got)
	}

	throttled := &smithy.GenericAPIError{Code: "TooManyRequests"}
	if got := Classify(throttled); got != KindRateLimited {
		t.Errorf("TooManyRequests: got %v", got)
	}

	teapot := &smithy.GenericAPIError{Code: "Teapot"}
	if got := Classify(teapot); got != KindGeneric {
		t.Errorf("unknown API error: got %v", got)
	}
}
