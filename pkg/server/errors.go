// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/yeetrun/dock/pkg/oci"
	"github.com/yeetrun/dock/pkg/policy"
)

// ErrorDescriptor is one entry of an error response body.
type ErrorDescriptor struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  any    `json:"detail,omitempty"`
}

// ErrorResponse is the error body defined by the distribution API.
type ErrorResponse struct {
	Errors []ErrorDescriptor `json:"errors"`
}

// WriteError writes an error response with a single descriptor.
func WriteError(w http.ResponseWriter, statusCode int, code, message string, detail any) {
	h := w.Header()
	h.Del("Content-Length")
	h.Del("Content-Encoding")
	h.Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	resp := ErrorResponse{Errors: []ErrorDescriptor{{Code: code, Message: message, Detail: detail}}}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		vlog("write error response: %v", err)
	}
}

// writeErr renders err. Registry errors carry their own code and status, a
// policy denial becomes UNAUTHORIZED or DENIED, and anything else is logged
// and reported as an internal error.
func (s *Server) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	var denial *policy.Denial
	if errors.As(err, &denial) {
		if denial.Unauthenticated {
			w.Header().Set("WWW-Authenticate", `Basic realm="`+s.realm+`"`)
			WriteError(w, oci.ErrUnauthorized.Status, oci.ErrUnauthorized.Code, oci.ErrUnauthorized.Message, denial.Reason)
			return
		}
		WriteError(w, oci.ErrDenied.Status, oci.ErrDenied.Code, oci.ErrDenied.Message, denial.Reason)
		return
	}
	e, ok := oci.AsError(err)
	if !ok {
		log.Printf("server: %s %s: %v", r.Method, r.URL.Path, err)
		e = oci.ErrInternal
	}
	vlog("%s %s: %v", r.Method, r.URL.Path, err)
	if r.Method == http.MethodHead {
		w.WriteHeader(e.Status)
		return
	}
	WriteError(w, e.Status, e.Code, e.Message, nil)
}
