package dispatcher

import (
	"context"
	"errors"

	"github.com/agentorch/agentserver/toolerrors"
)

// valueKinds are error kinds the dispatcher treats as "ValueError"-
// equivalent: caller/user mistakes mapped to a failed response with no
// event (spec.md §4.7, §7).
var valueKinds = map[toolerrors.Kind]bool{
	toolerrors.InvalidRequest: true,
	toolerrors.NodeStopped:    true,
	toolerrors.NotImplemented: true,
	toolerrors.Timeout:        true,
	toolerrors.Interrupted:    true,
}

// toResponse maps err into a Response and reports whether an error event
// should additionally be published (spec.md §7: "Infrastructure errors
// ... emit an error event in addition to the failed response").
func toResponse(err error) (Response, bool) {
	if err == nil {
		return ok(nil), false
	}
	if errors.Is(err, context.Canceled) {
		return errResponse("cancelled"), false
	}
	kind := toolerrors.KindOf(err)
	resp := errResponse(err.Error())
	if valueKinds[kind] {
		return resp, false
	}
	return resp, true
}
