package webutil

import (
	"encoding/json"
	"log"
	"net/http"
)

const (
	HeaderContentType = "Content-Type"

	ContentTypeJSONUTF8      = "application/json; charset=utf-8"
	ContentTypeTextPlainUTF8 = "text/plain; charset=utf-8"
)

// RespondWithJSON marshals payload and writes it with the given status.
func RespondWithJSON(w http.ResponseWriter, status int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Printf("ERROR: Failed to marshal JSON response: %v", err)
		w.Header().Set(HeaderContentType, ContentTypeJSONUTF8)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"Internal Server Error"}`))
		return
	}
	w.Header().Set(HeaderContentType, ContentTypeJSONUTF8)
	w.WriteHeader(status)
	_, _ = w.Write(response)
}

// HasResponseWriterSentHeader reports whether a handler already started a
// response, going by the Content-Type it would have set.
func HasResponseWriterSentHeader(w http.ResponseWriter) bool {
	return w.Header().Get(HeaderContentType) != ""
}
