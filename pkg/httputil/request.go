package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
)

// ErrEmptyBody is returned by ParseJSON when the request has no body
var ErrEmptyBody = errors.New("request body is empty")

// ParseJSON decodes a single JSON value from the request body into dest.
// Unknown fields and trailing data are rejected.
func ParseJSON(r *http.Request, dest interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		if errors.Is(err, io.EOF) {
			return ErrEmptyBody
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return err
		}
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if dec.More() {
		return fmt.Errorf("invalid JSON: unexpected data after the request object")
	}
	return nil
}

// ParseJSONOrError decodes JSON and writes a 400 (or 413 for an oversized body) on failure
func ParseJSONOrError(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	err := ParseJSON(r, dest)
	if err == nil {
		return true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		WriteErrorMessage(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
		return false
	}
	WriteBadRequest(w, err.Error())
	return false
}

// ParsePathInt64 parses a positive int64 id from the mux path variables
func ParsePathInt64(r *http.Request, key string) (int64, error) {
	str := mux.Vars(r)[key]
	if str == "" {
		return 0, fmt.Errorf("missing path parameter: %s", key)
	}
	val, err := strconv.ParseInt(str, 10, 64)
	if err != nil || val <= 0 {
		return 0, fmt.Errorf("invalid id for %s: %s", key, str)
	}
	return val, nil
}

// ParsePathInt64OrError is ParsePathInt64 writing a 400 on failure
func ParsePathInt64OrError(w http.ResponseWriter, r *http.Request, key string) (int64, bool) {
	val, err := ParsePathInt64(r, key)
	if err != nil {
		WriteBadRequest(w, err.Error())
		return 0, false
	}
	return val, true
}

func parseQuery[T any](r *http.Request, key, kind string, defaultVal T, parse func(string) (T, error)) (T, error) {
	str := r.URL.Query().Get(key)
	if str == "" {
		return defaultVal, nil
	}
	val, err := parse(str)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("invalid %s for query param %s: %s", kind, key, str)
	}
	return val, nil
}

// ParseQueryInt parses an integer query parameter
func ParseQueryInt(r *http.Request, key string, defaultVal int) (int, error) {
	return parseQuery(r, key, "integer", defaultVal, strconv.Atoi)
}

// ParseQueryInt64 parses an int64 query parameter
func ParseQueryInt64(r *http.Request, key string, defaultVal int64) (int64, error) {
	return parseQuery(r, key, "integer", defaultVal, func(s string) (int64, error) {
		return strconv.ParseInt(s, 10, 64)
	})
}

// ParseQueryBool parses a boolean query parameter
func ParseQueryBool(r *http.Request, key string, defaultVal bool) (bool, error) {
	return parseQuery(r, key, "boolean", defaultVal, strconv.ParseBool)
}

// ParseQueryInt64List parses a comma separated list such as ?ids=1,2,3.
// Empty entries are skipped.
func ParseQueryInt64List(r *http.Request, key string) ([]int64, error) {
	return parseQuery(r, key, "id list", nil, func(s string) ([]int64, error) {
		var ids []int64
		for _, part := range strings.Split(s, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			id, err := strconv.ParseInt(part, 10, 64)
			if err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
		return ids, nil
	})
}
