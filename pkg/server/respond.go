/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package server implements the control-plane HTTP surface of §4.5/§6.1:
// agent registration, heartbeats, pricing reports, command polling and
// completion, and the rebalance/termination signal endpoints, plus the
// periodic command-expiry/heartbeat-timeout sweep and the K8s-mode
// pipeline loop. The Replica Coordinator loop lives in pkg/replica.
package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/herdguard/herdguard/pkg/errorkind"
	"github.com/herdguard/herdguard/pkg/logging"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Respond writes a JSON response with the given status code.
func Respond(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(data)
}

// ErrorResponse is the standard JSON error envelope returned for 4xx/5xx.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// RespondError writes err classified by its errorkind.Kind, mapping to the
// status codes of §6.1/§7 (4xx terminal, 5xx retriable).
func RespondError(w http.ResponseWriter, r *http.Request, err error) {
	kind := errorkind.KindOf(err)
	status := errorkind.HTTPStatus(kind)
	if status >= 500 {
		logging.FromContext(r.Context()).Error(err, "request failed", "kind", kind)
	}
	Respond(w, status, ErrorResponse{Error: string(kind), Message: err.Error()})
}

// decodeAndValidate reads a JSON body into dst and runs struct-tag
// validation, writing a 400 response and returning false on either failure.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	const maxBody = 1 << 20 // 1 MiB
	body := http.MaxBytesReader(w, r.Body, maxBody)
	defer body.Close()

	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		RespondError(w, r, errorkind.Wrap(errorkind.Validation, err))
		return false
	}
	if err := validate.Struct(dst); err != nil {
		RespondError(w, r, errorkind.Wrap(errorkind.Validation, err))
		return false
	}
	return true
}
