package service

import (
	"encoding/json"
	"strings"

	jmespath "github.com/jmespath-community/go-jmespath"

	"github.com/target/jobfacade/internal/domain/model"
	apperrors "github.com/target/jobfacade/internal/errors"
)

// JMESPathEvaluator abstracts JMESPath operations for testability.
type JMESPathEvaluator interface {
	Validate(expr string) error
	Evaluate(expr string, data any) (any, error)
}

type jmespathLibEvaluator struct{}

func (jmespathLibEvaluator) Validate(expr string) error {
	_, err := jmespath.Compile(expr)
	return err
}

func (jmespathLibEvaluator) Evaluate(expr string, data any) (any, error) {
	return jmespath.Search(expr, data)
}

// ResultProjector narrows a job result with a JMESPath expression so pollers can fetch only the
// fields they need.
type ResultProjector struct {
	eval JMESPathEvaluator
}

// NewResultProjector returns a projector. A nil evaluator uses go-jmespath.
func NewResultProjector(eval JMESPathEvaluator) *ResultProjector {
	if eval == nil {
		eval = jmespathLibEvaluator{}
	}
	return &ResultProjector{eval: eval}
}

// Project replaces job.Result with the value selected by expr. An empty expression or a job without
// a result is left unchanged.
func (p *ResultProjector) Project(job *model.Job, expr string) error {
	expr = strings.TrimSpace(expr)
	if expr == "" || job == nil {
		return nil
	}
	if err := p.eval.Validate(expr); err != nil {
		return apperrors.InvalidField("result_query", "invalid JMESPath expression: "+err.Error())
	}
	if len(job.Result) == 0 {
		return nil
	}

	var data any
	if err := json.Unmarshal(job.Result, &data); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "decode job result")
	}
	out, err := p.eval.Evaluate(expr, data)
	if err != nil {
		return apperrors.InvalidField("result_query", "evaluate JMESPath expression: "+err.Error())
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "encode projected result")
	}
	job.Result = raw
	return nil
}
