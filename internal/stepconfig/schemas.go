package stepconfig

import (
	"fmt"

	"onboarding/backend/pkg/models"
)

// assignmentSchema is shared by every variant that can carry an owner rule.
// Mode is intentionally open: unknown modes decode and resolve to no owner.
const assignmentSchema = `{
	"type": "object",
	"properties": {
		"mode": {"type": "string", "minLength": 1},
		"user_id": {"type": "string"},
		"role": {"type": "string"},
		"strategy": {"type": "string"}
	},
	"required": ["mode"]
}`

const formSchema = `{
	"type": "object",
	"properties": {
		"form_id": {"type": "string", "minLength": 1},
		"fields": {"type": "array", "items": {"type": "string"}}
	},
	"required": ["form_id"]
}`

const taskSchema = `{
	"type": "object",
	"properties": {
		"instructions": {"type": "string"},
		"assignment": %s
	}
}`

const emailSchema = `{
	"type": "object",
	"properties": {
		"subject": {"type": "string", "minLength": 1},
		"body": {"type": "string"},
		"recipients": {"type": "array", "items": {"type": "string"}},
		"assignment": %s
	},
	"required": ["subject"]
}`

const signatureSchema = `{
	"type": "object",
	"properties": {
		"document_url": {"type": "string", "minLength": 1},
		"assignment": %s
	},
	"required": ["document_url"]
}`

const waitSchema = `{
	"type": "object",
	"properties": {
		"duration_days": {"type": "integer", "minimum": 0}
	},
	"required": ["duration_days"]
}`

var schemaSources = map[models.StepType]string{
	models.StepTypeForm:      formSchema,
	models.StepTypeTask:      fmt.Sprintf(taskSchema, assignmentSchema),
	models.StepTypeEmail:     fmt.Sprintf(emailSchema, assignmentSchema),
	models.StepTypeSignature: fmt.Sprintf(signatureSchema, assignmentSchema),
	models.StepTypeWait:      waitSchema,
}
