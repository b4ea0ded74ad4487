package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// maxRequestBody caps the request body size for both protobuf and JSON
// payloads.  The largest message is an announcement, so 64 KiB is generous.
const maxRequestBody = 64 << 10

const protobufContentType = "application/x-protobuf"

// Protobuf clients exchange google.protobuf.Struct messages carrying the
// same fields as the JSON bodies.

func isProtobufType(ct string) bool {
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return false
	}
	return mt == protobufContentType || mt == "application/protobuf"
}

// isProtobuf reports whether the request body is protobuf.
func isProtobuf(r *http.Request) bool {
	return isProtobufType(r.Header.Get("Content-Type"))
}

// wantsProtobuf reports whether the response should be protobuf: either the
// client sent protobuf or it asked for it explicitly.
func wantsProtobuf(r *http.Request) bool {
	if isProtobuf(r) {
		return true
	}
	for _, part := range strings.Split(r.Header.Get("Accept"), ",") {
		if isProtobufType(strings.TrimSpace(part)) {
			return true
		}
	}
	return false
}

var errEmptyBody = errors.New("empty request body")

// readBody decodes a JSON or protobuf Struct request into v.
func readBody(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody+1))
	if err != nil {
		return err
	}
	if len(body) > maxRequestBody {
		return errors.New("request body too large")
	}
	if len(body) == 0 {
		return errEmptyBody
	}

	if isProtobuf(r) {
		var st structpb.Struct
		if err := proto.Unmarshal(body, &st); err != nil {
			return err
		}
		body, err = st.MarshalJSON()
		if err != nil {
			return err
		}
	}

	return json.Unmarshal(body, v)
}

// writeBody encodes v as JSON, or as a protobuf Struct when the client
// speaks protobuf.
func writeBody(w http.ResponseWriter, r *http.Request, status int, v any) {
	if wantsProtobuf(r) {
		writeProto(w, status, v)
		return
	}
	writeJSON(w, status, v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProto(w http.ResponseWriter, status int, v any) {
	st, err := toStruct(v)
	if err != nil {
		http.Error(w, "proto marshal error", http.StatusInternalServerError)
		return
	}
	data, err := proto.Marshal(st)
	if err != nil {
		// Fall back to a plain-text error if marshalling fails.
		http.Error(w, "proto marshal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", protobufContentType)
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// toStruct round-trips v through its JSON form so the Struct carries the
// exact field names of the JSON API.
func toStruct(v any) (*structpb.Struct, error) {
	js, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(js, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}
