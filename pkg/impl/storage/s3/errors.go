package s3

import (
	"errors"
	"fmt"
	"net/http"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/adammck/depot/pkg/api"
)

// transientCodes are API error codes which mean the request may succeed if
// retried.
var transientCodes = map[string]bool{
	"InternalError":        true,
	"RequestLimitExceeded": true,
	"RequestTimeout":       true,
	"ServiceUnavailable":   true,
	"SlowDown":             true,
	"Throttling":           true,
	"ThrottlingException":  true,
}

// checkScheme rejects locations which belong to some other backend. They can't
// be in this bucket, so are NotFound.
func checkScheme(op string, loc api.StorageLocation) error {
	if loc.Scheme() != Scheme {
		return api.NewError(api.KindNotFound, op, loc.StorageID, fmt.Errorf("not an %s location", Scheme))
	}
	return nil
}

// classify maps an error from the S3 client to the adapter taxonomy.
func classify(op, storageID string, err error) error {
	return api.NewError(kindOf(err), op, storageID, err)
}

// kindOf says NotFound for a missing key, but not a missing bucket. An API
// error is Transient when its code or status says so, and BackendEngagement
// otherwise. Anything else never got a response, so is Transient.
func kindOf(err error) api.Kind {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	if errors.As(err, &nsk) || errors.As(err, &nf) {
		return api.KindNotFound
	}

	status := 0
	var re *awshttp.ResponseError
	if errors.As(err, &re) {
		status = re.HTTPStatusCode()
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		switch {
		case status == http.StatusNotFound && code != "NoSuchBucket":
			return api.KindNotFound
		case transientCodes[code], status >= 500, status == http.StatusTooManyRequests:
			return api.KindTransient
		default:
			return api.KindBackendEngagement
		}
	}

	switch {
	case status == http.StatusNotFound:
		return api.KindNotFound
	case status >= 500, status == 0:
		return api.KindTransient
	default:
		return api.KindBackendEngagement
	}
}
