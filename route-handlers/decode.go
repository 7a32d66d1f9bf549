package routehandlers

import (
	"encoding/json"
	"net/http"

	"github.com/printflow/printflow/webutil"
)

// decodeJSONBody strictly decodes a JSON request body into dst. Unknown
// fields and malformed payloads surface as 400 responses.
func decodeJSONBody(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return webutil.ErrBadRequestWrap("Request body is not valid JSON for this endpoint", err)
	}
	return nil
}
