package response

import (
	"encoding/json"
	"net/http"
)

// V is the envelope for all JSON responses
type V struct {
	Success  bool        `json:"success"`
	Result   interface{} `json:"result"`
	Messages []string    `json:"messages"`
}

// WriteResponse will write the result in the response envelope with a 200 status
func WriteResponse(w http.ResponseWriter, r *http.Request, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(V{
		Success:  true,
		Result:   result,
		Messages: []string{},
	})
}

// WriteError will write the Error in the response envelope with its status code
func WriteError(w http.ResponseWriter, r *http.Request, e *Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.StatusCode)
	json.NewEncoder(w).Encode(V{
		Success:  false,
		Result:   e.Result,
		Messages: append([]string{e.Message}, e.Messages...),
	})
}
