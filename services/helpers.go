package services

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/choosek/tinyvote/protocol"
)

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// statusForError maps protocol error classes to HTTP status codes so that
// clients can distinguish integrity rejections from unknown instances.
func statusForError(err error) int {
	switch {
	case errors.Is(err, protocol.ErrUnknownInstance):
		return http.StatusNotFound
	case errors.Is(err, protocol.ErrDuplicateShare),
		errors.Is(err, protocol.ErrInstanceClosed),
		errors.Is(err, protocol.ErrDuplicateInstance),
		errors.Is(err, protocol.ErrInstanceAborted),
		errors.Is(err, protocol.ErrInstanceNotPending):
		return http.StatusConflict
	case errors.Is(err, protocol.ErrVoteOutOfDomain),
		errors.Is(err, protocol.ErrWrongNode),
		errors.Is(err, protocol.ErrWrongInstance),
		errors.Is(err, protocol.ErrMalformedShare),
		errors.Is(err, protocol.ErrTooFewNodes),
		errors.Is(err, protocol.ErrInvalidDomain):
		return http.StatusBadRequest
	case errors.Is(err, protocol.ErrIncompleteInstance):
		return http.StatusFailedDependency
	default:
		return http.StatusInternalServerError
	}
}

// postJSON posts a JSON body and decodes a JSON response into T.
func postJSON[T any](client *http.Client, url string, body any) (*T, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	resp, err := client.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%s returned %d: %s", url, resp.StatusCode, bytes.TrimSpace(msg))
	}

	return protocol.DecodeMessage[T](resp.Body)
}

// getJSON fetches a URL and decodes a JSON response into T.
func getJSON[T any](client *http.Client, url string) (*T, error) {
	resp, err := client.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%s returned %d: %s", url, resp.StatusCode, bytes.TrimSpace(msg))
	}

	return protocol.DecodeMessage[T](resp.Body)
}
