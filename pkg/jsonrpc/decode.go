package jsonrpc

import (
	"encoding/json"
	"fmt"

	"github.com/morezero/walletconnect/pkg/wcerr"
	"github.com/morezero/walletconnect/pkg/wcuri"
)

// Decode validates data as a JSON-RPC 2.0 request or response and binds it to url.
// A request without an id fails with wcerr.ErrMissingRequestID; anything else that is not
// a well-formed message fails with wcerr.ErrMalformedPayload.
func Decode(data []byte, url wcuri.URI) (Message, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return Message{}, wcerr.ErrMalformedPayload.With(fmt.Sprintf("not a json object: %v", err))
	}

	var version string
	if raw, ok := fields["jsonrpc"]; !ok || json.Unmarshal(raw, &version) != nil || version != Version {
		return Message{}, wcerr.ErrMalformedPayload.With(`"jsonrpc" must be "2.0"`)
	}

	if rawMethod, ok := fields["method"]; ok {
		req, err := decodeRequest(fields, rawMethod)
		if err != nil {
			return Message{}, err
		}
		req.URL = url
		return Message{Request: &req}, nil
	}

	_, hasResult := fields["result"]
	_, hasError := fields["error"]
	if hasResult == hasError {
		return Message{}, wcerr.ErrMalformedPayload.With("expected exactly one of method, result or error")
	}
	resp, err := decodeResponse(fields, hasError)
	if err != nil {
		return Message{}, err
	}
	resp.URL = url
	return Message{Response: &resp}, nil
}

func decodeRequest(fields map[string]json.RawMessage, rawMethod json.RawMessage) (Request, error) {
	var req Request
	if err := json.Unmarshal(rawMethod, &req.Method); err != nil || req.Method == "" {
		return Request{}, wcerr.ErrMalformedPayload.With(`"method" must be a non-empty string`)
	}

	rawID, ok := fields["id"]
	if !ok {
		return Request{}, wcerr.ErrMissingRequestID
	}
	if err := json.Unmarshal(rawID, &req.ID); err != nil {
		return Request{}, wcerr.ErrMalformedPayload.With(fmt.Sprintf("invalid id: %v", err))
	}

	if rawParams, ok := fields["params"]; ok && string(rawParams) != "null" {
		if err := json.Unmarshal(rawParams, &req.Params); err != nil {
			return Request{}, wcerr.ErrMalformedPayload.With(err.Error())
		}
	}
	return req, nil
}

func decodeResponse(fields map[string]json.RawMessage, hasError bool) (Response, error) {
	var resp Response
	rawID, ok := fields["id"]
	if !ok {
		return Response{}, wcerr.ErrMalformedPayload.With("response has no id")
	}
	if err := json.Unmarshal(rawID, &resp.ID); err != nil {
		return Response{}, wcerr.ErrMalformedPayload.With(fmt.Sprintf("invalid id: %v", err))
	}

	if hasError {
		var e Error
		if err := json.Unmarshal(fields["error"], &e); err != nil {
			return Response{}, wcerr.ErrMalformedPayload.With(fmt.Sprintf("invalid error object: %v", err))
		}
		if e.Message == "" && e.Code == 0 {
			return Response{}, wcerr.ErrMalformedPayload.With("error object has no code or message")
		}
		resp.Error = &e
		return resp, nil
	}

	resp.Result = append(json.RawMessage(nil), fields["result"]...)
	return resp, nil
}

// PeekID extracts the id from data on a best-effort basis, returning the null id when there
// is none. Used to answer undecodable requests.
func PeekID(data []byte) ID {
	var head struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(data, &head); err != nil || len(head.ID) == 0 {
		return NullID()
	}
	var id ID
	if err := json.Unmarshal(head.ID, &id); err != nil {
		return NullID()
	}
	return id
}
