package model

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"

	apperrors "github.com/target/jobfacade/internal/errors"
)

// MaxSubmitCount bounds a single batch submission.
const MaxSubmitCount = 1000

//nolint:gochecknoglobals // validator caches struct metadata and is safe for concurrent use
var validate = validator.New(validator.WithRequiredStructEnabled())

// SubmitRequest asks for Count independent jobs of one kind.
type SubmitRequest struct {
	Kind  string          `json:"kind"            validate:"required,max=128"`
	Input json.RawMessage `json:"input,omitempty"`
	Count int             `json:"count"           validate:"gte=1,lte=1000"`
}

// Validate checks the request and returns an InvalidArgument error naming the offending field.
func (r *SubmitRequest) Validate() error {
	r.Kind = strings.TrimSpace(r.Kind)
	if len(r.Input) > 0 && !json.Valid(r.Input) {
		return apperrors.InvalidField("input", "input must be valid JSON")
	}
	err := validate.Struct(r)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return apperrors.Wrap(err, apperrors.ErrCodeInvalidArgument, "invalid submit request")
	}
	fe := verrs[0]
	switch fe.Field() {
	case "Kind":
		if fe.Tag() == "required" {
			return apperrors.InvalidField("kind", "kind is required and cannot be empty")
		}
		return apperrors.InvalidField("kind", "kind cannot exceed 128 characters")
	case "Count":
		if fe.Tag() == "gte" {
			return apperrors.InvalidField("count", "count must be at least 1")
		}
		return apperrors.InvalidField("count", "count cannot exceed 1000")
	default:
		return apperrors.InvalidField(strings.ToLower(fe.Field()), fe.Error())
	}
}

// SubmitOutcome reports what happened to one submission of a batch.
type SubmitOutcome struct {
	Index int    `json:"index"`
	ID    string `json:"job_id,omitempty"`
	Error string `json:"error,omitempty"`
}

// Submitted reports whether the backend accepted this submission.
func (o SubmitOutcome) Submitted() bool {
	return o.ID != "" && o.Error == ""
}

// SubmitResult collects per-index outcomes of a batch submission.
type SubmitResult struct {
	Kind     string          `json:"kind"`
	Outcomes []SubmitOutcome `json:"outcomes"`
}

// IDs returns the ids of accepted submissions in submission order.
func (r *SubmitResult) IDs() []string {
	ids := make([]string, 0, len(r.Outcomes))
	for _, o := range r.Outcomes {
		if o.Submitted() {
			ids = append(ids, o.ID)
		}
	}
	return ids
}

// Failures returns the outcomes the backend rejected.
func (r *SubmitResult) Failures() []SubmitOutcome {
	var out []SubmitOutcome
	for _, o := range r.Outcomes {
		if !o.Submitted() {
			out = append(out, o)
		}
	}
	return out
}
