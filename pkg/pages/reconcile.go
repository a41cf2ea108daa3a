package pages

import "github.com/mrhapile/wacz/pkg/types"

// Result is the outcome of reconciling detected pages with a supplied list.
type Result struct {
	// Pages is the canonical page list, in detection order.
	Pages []types.Page

	// Unmatched lists supplied keys no detected page matched.
	Unmatched []string

	Warnings []types.Warning
}

// Reconcile merges detected pages with an optional supplied list.
//
// Without a supplied list every detected page is kept. With one, only
// detected pages that match a supplied entry are kept, carrying the
// supplied fields; every entry left over is reported as a warning.
func Reconcile(detected []types.Page, supplied *Supplied) Result {
	if supplied == nil {
		return Result{Pages: append([]types.Page(nil), detected...)}
	}

	var res Result
	for _, p := range detected {
		if supplied.Match(&p) {
			res.Pages = append(res.Pages, p)
		}
	}
	res.Unmatched = supplied.Unmatched()
	for _, key := range res.Unmatched {
		res.Warnings = append(res.Warnings, types.Warning{
			Kind:    types.WarnUnmatchedPage,
			Subject: key,
			Message: "no captured page matches this entry",
		})
	}
	return res
}
