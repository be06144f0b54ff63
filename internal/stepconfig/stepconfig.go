// Package stepconfig decodes and validates the per-type configuration payload
// attached to workflow step definitions.
package stepconfig

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"onboarding/backend/pkg/models"
)

// Config is implemented by every step configuration variant.
type Config interface {
	StepType() models.StepType
	// Assignment returns the owner rule, or nil when the variant has none.
	Assignment() *models.AssignmentRule
}

type FormConfig struct {
	FormID string   `json:"form_id"`
	Fields []string `json:"fields,omitempty"`
}

func (FormConfig) StepType() models.StepType           { return models.StepTypeForm }
func (FormConfig) Assignment() *models.AssignmentRule { return nil }

type TaskConfig struct {
	Instructions string                 `json:"instructions,omitempty"`
	Rule         *models.AssignmentRule `json:"assignment,omitempty"`
}

func (TaskConfig) StepType() models.StepType             { return models.StepTypeTask }
func (c TaskConfig) Assignment() *models.AssignmentRule { return c.Rule }

type EmailConfig struct {
	Subject    string                 `json:"subject"`
	Body       string                 `json:"body,omitempty"`
	Recipients []string               `json:"recipients,omitempty"`
	Rule       *models.AssignmentRule `json:"assignment,omitempty"`
}

func (EmailConfig) StepType() models.StepType             { return models.StepTypeEmail }
func (c EmailConfig) Assignment() *models.AssignmentRule { return c.Rule }

type SignatureConfig struct {
	DocumentURL string                 `json:"document_url"`
	Rule        *models.AssignmentRule `json:"assignment,omitempty"`
}

func (SignatureConfig) StepType() models.StepType             { return models.StepTypeSignature }
func (c SignatureConfig) Assignment() *models.AssignmentRule { return c.Rule }

// WaitConfig only records a duration. Nothing in the engine fires on it.
type WaitConfig struct {
	DurationDays int `json:"duration_days"`
}

func (WaitConfig) StepType() models.StepType           { return models.StepTypeWait }
func (WaitConfig) Assignment() *models.AssignmentRule { return nil }

// ValidationError lists every schema violation found in a config payload.
type ValidationError struct {
	Type     models.StepType
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s step config: %s", e.Type, strings.Join(e.Problems, "; "))
}

var (
	compileOnce sync.Once
	compiled    map[models.StepType]*gojsonschema.Schema
	compileErr  error
)

func schemas() (map[models.StepType]*gojsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiled = make(map[models.StepType]*gojsonschema.Schema, len(schemaSources))
		for t, src := range schemaSources {
			s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
			if err != nil {
				compileErr = fmt.Errorf("compile %s schema: %w", t, err)
				return
			}
			compiled[t] = s
		}
	})
	return compiled, compileErr
}

// Validate checks raw against the schema registered for stepType.
func Validate(stepType models.StepType, raw json.RawMessage) error {
	all, err := schemas()
	if err != nil {
		return err
	}
	schema, ok := all[stepType]
	if !ok {
		return &ValidationError{Type: stepType, Problems: []string{"unknown step type"}}
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(normalize(raw)))
	if err != nil {
		return &ValidationError{Type: stepType, Problems: []string{err.Error()}}
	}
	if !result.Valid() {
		verr := &ValidationError{Type: stepType}
		for _, re := range result.Errors() {
			verr.Problems = append(verr.Problems, re.String())
		}
		return verr
	}
	return nil
}

// Decode validates raw and returns the typed variant for stepType.
func Decode(stepType models.StepType, raw json.RawMessage) (Config, error) {
	if err := Validate(stepType, raw); err != nil {
		return nil, err
	}

	var cfg Config
	switch stepType {
	case models.StepTypeForm:
		cfg = &FormConfig{}
	case models.StepTypeTask:
		cfg = &TaskConfig{}
	case models.StepTypeEmail:
		cfg = &EmailConfig{}
	case models.StepTypeSignature:
		cfg = &SignatureConfig{}
	case models.StepTypeWait:
		cfg = &WaitConfig{}
	}
	if err := json.Unmarshal(normalize(raw), cfg); err != nil {
		return nil, &ValidationError{Type: stepType, Problems: []string{err.Error()}}
	}
	return cfg, nil
}

// normalize treats an absent payload as an empty object.
func normalize(raw json.RawMessage) []byte {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return []byte("{}")
	}
	return trimmed
}
