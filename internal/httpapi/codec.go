package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"google.golang.org/protobuf/types/known/structpb"
)

var errBadBody = errors.New("invalid request body")

// decodeBody fills dst from a JSON body or from a protobuf-encoded
// google.protobuf.Struct. An empty body leaves dst untouched.
func decodeBody(r *http.Request, dst any) error {
	if isProtobuf(r) {
		var s structpb.Struct
		if err := readProto(r, &s); err != nil {
			return errBadBody
		}
		if err := structInto(&s, dst); err != nil {
			return errBadBody
		}
		return nil
	}

	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return errBadBody
	}
	return nil
}

// respond writes v as JSON, or as a protobuf Struct when the client speaks
// protobuf.
func respond(w http.ResponseWriter, r *http.Request, status int, v any) {
	if wantsProtobuf(r) {
		msg, err := structFrom(v)
		if err != nil {
			http.Error(w, "proto encode error", http.StatusInternalServerError)
			return
		}
		writeProto(w, status, msg)
		return
	}
	writeJSON(w, status, v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
