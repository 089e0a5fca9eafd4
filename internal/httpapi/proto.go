package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// maxRequestBody caps the request body size for both protobuf and JSON
// payloads. A scanned ID card barcode is a few hundred bytes.
const maxRequestBody = 16 << 10

const contentTypeProtobuf = "application/x-protobuf"

// isProtobuf returns true if the request's Content-Type indicates a
// protobuf payload. Scanner firmware sends "application/x-protobuf".
func isProtobuf(r *http.Request) bool {
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return mt == contentTypeProtobuf || mt == "application/protobuf"
}

// wantsProtobuf reports whether the response should be protobuf encoded:
// either the client asked for it or it sent protobuf.
func wantsProtobuf(r *http.Request) bool {
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Accept"))
	if mt == contentTypeProtobuf || mt == "application/protobuf" {
		return true
	}
	return isProtobuf(r)
}

// readProto reads the request body and unmarshals it into msg.
func readProto(r *http.Request, msg proto.Message) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		return err
	}
	return proto.Unmarshal(body, msg)
}

// writeProto marshals msg and writes it with the given HTTP status.
func writeProto(w http.ResponseWriter, status int, msg proto.Message) {
	data, err := proto.Marshal(msg)
	if err != nil {
		// Fall back to a plain-text error if marshalling fails.
		http.Error(w, "proto marshal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", contentTypeProtobuf)
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// structFrom converts any JSON-encodable value to a google.protobuf.Struct,
// going through its JSON form so field names match the JSON API.
func structFrom(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("response is not a JSON object: %w", err)
	}
	return structpb.NewStruct(m)
}

// structInto decodes a google.protobuf.Struct into dst as if it had been
// sent as JSON.
func structInto(s *structpb.Struct, dst any) error {
	raw, err := json.Marshal(s.AsMap())
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}
