package assets

import (
	"fmt"

	"github.com/storefront-io/go-assetkit/media"
)

// BatchResult is the outcome of one SubmitBatch call.
type BatchResult struct {
	// Submitted is the number of files in the batch.
	Submitted int
	// Uploaded holds the assets that entered the set, in set order.
	Uploaded []media.Asset
	// Errors holds one user-presentable message per failed file.
	Errors []string
}

// Failed returns the number of submitted files that did not enter the set.
func (r *BatchResult) Failed() int {
	return r.Submitted - len(r.Uploaded)
}

// Summary describes the batch outcome for a toast-style message.
func (r *BatchResult) Summary() string {
	uploaded := len(r.Uploaded)
	switch {
	case uploaded == 0:
		return "No images were uploaded"
	case r.Failed() == 0:
		return fmt.Sprintf("Uploaded %d image(s)", uploaded)
	default:
		return fmt.Sprintf("Uploaded %d of %d images, %d failed", uploaded, r.Submitted, r.Failed())
	}
}

// ErrorSummary collapses multiple errors into a single message.
// It is empty when the batch had no errors.
func (r *BatchResult) ErrorSummary() string {
	switch len(r.Errors) {
	case 0:
		return ""
	case 1:
		return r.Errors[0]
	default:
		return fmt.Sprintf("%d files could not be uploaded", len(r.Errors))
	}
}
