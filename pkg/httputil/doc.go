// Package httputil provides HTTP handler utilities shared by every ptbhub
// endpoint.
//
// Errors are always written as {"detail": "...", "code": "..."} with an
// optional "errors" map of field messages. Handlers return classified errors
// from pkg/apperrors and call WriteError; anything unclassified becomes an
// opaque 500 and is logged with its stack.
//
//	func (h *Handlers) get(w http.ResponseWriter, r *http.Request) {
//		id, err := httputil.ParsePathInt64(r, "id")
//		if err != nil {
//			httputil.WriteError(w, r, err)
//			return
//		}
//		...
//	}
//
// List endpoints use Page/ParsePageParams for count/next/previous/results.
package httputil
