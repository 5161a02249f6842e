package handler

import "net/http"

// Hello handles GET / on the backend stub. The body is the JSON string "hello".
func Hello() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, "hello")
	}
}
