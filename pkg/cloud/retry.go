package cloud

import "github.com/raxautoscale/convergence/pkg/model"

// Outcome classifies how the Step Executor should react to an error
// returned from a gateway call, per the retry table in spec.md §4.4.
type Outcome int

const (
	// OutcomeSuccess means the call should be treated as having succeeded
	// even though it returned an error (e.g. delete-on-404).
	OutcomeSuccess Outcome = iota
	OutcomeRetryable
	OutcomeTerminal
)

// ClassifyCreateServer implements the CreateServer row: 2xx success;
// 5xx/429/transport retryable; any other 4xx terminal.
func ClassifyCreateServer(err error) Outcome {
	if err == nil {
		return OutcomeSuccess
	}
	apiErr, ok := err.(*model.APIError)
	if !ok {
		return OutcomeRetryable // transport error
	}
	if apiErr.IsServerError() || apiErr.IsRateLimited() {
		return OutcomeRetryable
	}
	return OutcomeTerminal
}

// ClassifyDeleteServer implements the DeleteServer row: 2xx/404 success;
// 5xx retryable.
func ClassifyDeleteServer(err error) Outcome {
	if err == nil {
		return OutcomeSuccess
	}
	if _, ok := err.(*model.ServerDeletedError); ok {
		return OutcomeSuccess
	}
	apiErr, ok := err.(*model.APIError)
	if !ok {
		return OutcomeRetryable
	}
	if apiErr.IsNotFound() {
		return OutcomeSuccess
	}
	if apiErr.IsServerError() {
		return OutcomeRetryable
	}
	return OutcomeTerminal
}

// ClassifyAddNodeToLB implements the AddNodeToLB row: 2xx success;
// 422 PENDING_UPDATE / 5xx / transport retryable; 422 "LB is deleted" / 404
// terminal.
func ClassifyAddNodeToLB(err error) Outcome {
	if err == nil {
		return OutcomeSuccess
	}
	if _, ok := err.(*model.CLBOrNodeDeletedError); ok {
		return OutcomeTerminal
	}
	apiErr, ok := err.(*model.APIError)
	if !ok {
		return OutcomeRetryable
	}
	if apiErr.IsNotFound() {
		return OutcomeTerminal
	}
	if apiErr.StatusCode == 422 && isPendingUpdate(err) {
		return OutcomeRetryable
	}
	if apiErr.IsServerError() {
		return OutcomeRetryable
	}
	return OutcomeTerminal
}

// ClassifyRemoveNodeFromLB implements the RemoveNodeFromLB row: 2xx/404/422
// "LB deleted"/422 PENDING_DELETE success (already-gone); 422 PENDING_UPDATE
// /5xx retryable; other 4xx terminal.
func ClassifyRemoveNodeFromLB(err error) Outcome {
	if err == nil {
		return OutcomeSuccess
	}
	if _, ok := err.(*model.CLBOrNodeDeletedError); ok {
		return OutcomeSuccess
	}
	apiErr, ok := err.(*model.APIError)
	if !ok {
		return OutcomeRetryable
	}
	if apiErr.IsNotFound() {
		return OutcomeSuccess
	}
	if apiErr.StatusCode == 422 {
		if isLBDeleted(err) || isPendingDelete(err) {
			return OutcomeSuccess
		}
		if isPendingUpdate(err) {
			return OutcomeRetryable
		}
		return OutcomeTerminal
	}
	if apiErr.IsServerError() {
		return OutcomeRetryable
	}
	return OutcomeTerminal
}

// ClassifyMetadata implements the SetMetadata/RemoveMetadata row: 2xx
// success; 5xx retryable; 4xx terminal.
func ClassifyMetadata(err error) Outcome {
	if err == nil {
		return OutcomeSuccess
	}
	apiErr, ok := err.(*model.APIError)
	if !ok {
		return OutcomeRetryable
	}
	if apiErr.IsServerError() {
		return OutcomeRetryable
	}
	return OutcomeTerminal
}
