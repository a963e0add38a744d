// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package schema validates an enqueue request's promptsConfig payload
// against an embedded OpenAPI schema before a job is ever written to
// the Progress Store.
package schema

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"
)

const promptsConfigDocument = `
openapi: 3.0.3
info:
  title: rowforge enqueue payload
  version: "1.0"
paths: {}
components:
  schemas:
    PromptSpec:
      type: object
      additionalProperties: false
      required: [promptText, outputColumnName, provider]
      properties:
        systemText:
          type: string
        promptText:
          type: string
          minLength: 1
        outputColumnName:
          type: string
          minLength: 1
        provider:
          type: string
          enum: [openai, gemini, perplexity, anthropic]
        modelId:
          type: string
    PromptsConfig:
      type: array
      minItems: 1
      items:
        $ref: '#/components/schemas/PromptSpec'
`

var promptsConfigSchema *openapi3.Schema

func init() {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData([]byte(promptsConfigDocument))
	if err != nil {
		panic("controlplane/schema: invalid embedded document: " + err.Error())
	}
	if err := doc.Validate(context.Background()); err != nil {
		panic("controlplane/schema: invalid embedded document: " + err.Error())
	}
	promptsConfigSchema = doc.Components.Schemas["PromptsConfig"].Value
}

// ValidatePromptsConfig decodes raw as JSON and checks it against the
// embedded PromptsConfig schema, returning a descriptive error on the
// first violation (missing outputColumnName, unknown provider, ...).
func ValidatePromptsConfig(raw json.RawMessage) error {
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fmt.Errorf("promptsConfig: invalid JSON: %w", err)
	}
	if err := promptsConfigSchema.VisitJSON(decoded); err != nil {
		return fmt.Errorf("promptsConfig: %w", err)
	}
	return nil
}
