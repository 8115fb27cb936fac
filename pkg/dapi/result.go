package dapi

import (
	"github.com/fleetmesh/fleetmesh/pkg/apierror"
)

// Result is the aggregated outcome of a fan-out: every target node
// appears in exactly one of the two maps once dispatch completes,
// timeouts included.
type Result struct {
	// Successes maps node name to the payload that node returned.
	Successes map[string]any `json:"successes"`

	// Errors maps node name to that node's failure. Entries are only
	// ever added, never overwritten, so no node's detail is lost.
	Errors map[string]*apierror.Error `json:"errors"`
}

// Response is the uniform envelope handed back to the transport layer:
// a success payload, or a partial outcome exposing both the usable
// payloads and the per-node failures.
type Response struct {
	// Data is the success payload. For single-node policies it is the
	// callee's return value; for fan-out it is the successes map keyed
	// by node.
	Data any `json:"data"`

	// PartialErrors is non-nil only for mixed fan-out outcomes, carrying
	// the failures of the nodes that did not complete.
	PartialErrors map[string]*apierror.Error `json:"partial_errors,omitempty"`

	// Pretty is the rendering hint carried over from the request.
	Pretty bool `json:"-"`
}

// Partial reports whether the response is a mixed outcome.
func (r *Response) Partial() bool { return len(r.PartialErrors) > 0 }

// fold reduces an aggregated result to the envelope contract: all
// successes return the payload map, all failures return one merged
// taxonomy error, and mixed outcomes return a partial envelope.
// Merge accumulates in stable target order, which is safe because the
// operation is associative.
func fold(res *Result, order []string, pretty bool) (*Response, error) {
	if len(res.Errors) == 0 {
		return &Response{Data: res.Successes, Pretty: pretty}, nil
	}

	if len(res.Successes) == 0 {
		var merged *apierror.Error
		for _, node := range order {
			if e, ok := res.Errors[node]; ok {
				merged = apierror.Merge(merged, e)
			}
		}
		return nil, merged
	}

	return &Response{
		Data:          res.Successes,
		PartialErrors: res.Errors,
		Pretty:        pretty,
	}, nil
}
