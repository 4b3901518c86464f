// Package assist implements the streaming assistance session engine: one suggestion
// request per Session, single-flight execution through a Manager, failure
// classification and write-through caching of completed suggestions.
package assist

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/ashureev/vulndash/internal/domain"
	"github.com/go-playground/validator/v10"
)

const (
	defaultPatchedIn  = "N/A"
	defaultApplyFixIn = "Unknown file"
)

var requestValidate *validator.Validate

func init() {
	requestValidate = validator.New()
	requestValidate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

// SuggestionRequest is the validated projection of an Alert sent to the suggestion service.
type SuggestionRequest struct {
	AlertID       string    `json:"-"`
	Vulnerability string    `json:"vulnerability" validate:"required"`
	Package       string    `json:"package" validate:"required"`
	Severity      string    `json:"severity" validate:"required,oneof=critical high medium low"`
	PatchedIn     string    `json:"patched_in"`
	ApplyFixIn    string    `json:"apply_fix_in"`
	RepoName      string    `json:"repo_name,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// NewSuggestionRequest builds a request from alert and validates it.
// The returned request is usable for logging even when err is non-nil.
func NewSuggestionRequest(alert domain.Alert, now time.Time) (SuggestionRequest, error) {
	req := SuggestionRequest{
		AlertID:       alert.ID,
		Vulnerability: strings.TrimSpace(alert.Vulnerability),
		Package:       strings.TrimSpace(alert.Package),
		Severity:      strings.ToLower(strings.TrimSpace(string(alert.Severity))),
		PatchedIn:     alert.PatchedIn,
		ApplyFixIn:    alert.ApplyFixIn,
		RepoName:      alert.RepoName,
		CreatedAt:     now,
	}
	if req.PatchedIn == "" {
		req.PatchedIn = defaultPatchedIn
	}
	if req.ApplyFixIn == "" {
		req.ApplyFixIn = defaultApplyFixIn
	}
	return req, req.Validate()
}

// Validate checks the required fields.
func (r SuggestionRequest) Validate() error {
	err := requestValidate.Struct(r)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate suggestion request: %w", err)
	}
	out := &ValidationError{}
	for _, fe := range verrs {
		if fe.Tag() == "required" {
			out.Missing = append(out.Missing, fe.Field())
		} else {
			out.Invalid = append(out.Invalid, fe.Field())
		}
	}
	return out
}

// ValidationError lists the request fields that failed validation.
type ValidationError struct {
	Missing []string
	Invalid []string
}

func (e *ValidationError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "Missing fields: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, "Invalid fields: "+strings.Join(e.Invalid, ", "))
	}
	return strings.Join(parts, "; ")
}
