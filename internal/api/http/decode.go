package apihttp

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// MaxBodyBytes caps request bodies read by DecodeBody.
const MaxBodyBytes = 4 << 20

const contentTypeCBOR = "application/cbor"

var (
	// ErrEmptyBody is returned when the request has no body.
	ErrEmptyBody = errors.New("apihttp: empty body")
	// ErrUnsupportedMediaType is returned for bodies that are neither JSON nor CBOR.
	ErrUnsupportedMediaType = errors.New("apihttp: unsupported media type")
)

var cborDecMode cbor.DecMode

func init() {
	var err error
	cborDecMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("apihttp: CBOR decoder initialization failed: " + err.Error())
	}
}

// ReadBody reads the request body and returns it as JSON. CBOR bodies
// (Content-Type application/cbor) are transcoded so downstream decoding
// and raw JSON fields work the same for both encodings.
func ReadBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, ErrEmptyBody
	}
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("apihttp: read body: %w", err)
	}
	if len(body) == 0 {
		return nil, ErrEmptyBody
	}

	mediaType := "application/json"
	if header := r.Header.Get("Content-Type"); header != "" {
		parsed, _, err := mime.ParseMediaType(header)
		if err != nil {
			return nil, ErrUnsupportedMediaType
		}
		mediaType = parsed
	}
	switch mediaType {
	case "application/json", "text/plain":
		return body, nil
	case contentTypeCBOR:
		var value any
		if err := cborDecMode.Unmarshal(body, &value); err != nil {
			return nil, fmt.Errorf("apihttp: invalid cbor: %w", err)
		}
		return json.Marshal(value)
	default:
		return nil, ErrUnsupportedMediaType
	}
}

// DecodeBody reads the request body into v.
func DecodeBody(r *http.Request, v any) error {
	body, err := ReadBody(r)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("apihttp: invalid json: %w", err)
	}
	return nil
}

// DecodeError maps a decode failure to a status and client message.
func DecodeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrUnsupportedMediaType):
		WriteError(w, http.StatusUnsupportedMediaType, "unsupported media type")
	case errors.Is(err, ErrEmptyBody):
		WriteError(w, http.StatusBadRequest, "request body required")
	default:
		WriteError(w, http.StatusBadRequest, "invalid request body")
	}
}
