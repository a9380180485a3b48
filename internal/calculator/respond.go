package calculator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"

	"go.uber.org/zap"

	"github.com/sadaka-platform/zakat/internal/form"
)

type ErrorResponse struct {
	Error     string       `json:"error"`
	Code      string       `json:"code,omitempty"`
	Details   []FieldIssue `json:"details,omitempty"`
	Retryable bool         `json:"retryable,omitempty"`
}

type FieldIssue struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		zap.L().Warn("failed to encode response", zap.Error(err))
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

func respondFieldErrors(w http.ResponseWriter, err error) {
	resp := ErrorResponse{
		Error: "invalid calculator input",
		Code:  "invalid_input",
	}
	for _, fe := range form.FieldErrors(err) {
		resp.Details = append(resp.Details, FieldIssue{Field: fe.Field, Reason: fe.Reason})
	}
	respondJSON(w, http.StatusBadRequest, resp)
}

// rawFields flattens JSON field values to the strings the form parser
// takes. Numbers keep their literal text, null means blank.
func rawFields(fields map[string]json.RawMessage) (map[string]string, error) {
	out := make(map[string]string, len(fields))

	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		v := bytes.TrimSpace(fields[name])
		switch {
		case len(v) == 0 || bytes.Equal(v, []byte("null")):
			out[name] = ""
		case v[0] == '"':
			var s string
			if err := json.Unmarshal(v, &s); err != nil {
				return nil, fmt.Errorf("%s: invalid string", name)
			}
			out[name] = s
		case v[0] == '-' || (v[0] >= '0' && v[0] <= '9'):
			out[name] = string(v)
		default:
			return nil, fmt.Errorf("%s: must be a number or string", name)
		}
	}
	return out, nil
}
