package prompt

import (
	"encoding/json"
	"fmt"
	"sync"

	"deepresearch/internal/types"
)

// Raw JSON schemas for structured calls. Every property is required and
// additionalProperties is false so the same text works with strict json_schema modes.
const (
	QuestionsSchemaJSON = `{
  "type": "object",
  "properties": {
    "questions": {"type": "array", "items": {"type": "string"}, "description": "Follow-up questions, at least 5"}
  },
  "required": ["questions"],
  "additionalProperties": false
}`

	PlanSchemaJSON = `{
  "type": "object",
  "properties": {
    "sections": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "title": {"type": "string"},
          "summary": {"type": "string"}
        },
        "required": ["title", "summary"],
        "additionalProperties": false
      }
    }
  },
  "required": ["sections"],
  "additionalProperties": false
}`

	QueriesSchemaJSON = `{
  "type": "object",
  "properties": {
    "queries": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "query": {"type": "string", "description": "The SERP query"},
          "researchGoal": {"type": "string", "description": "The goal of the research and additional research directions"}
        },
        "required": ["query", "researchGoal"],
        "additionalProperties": false
      }
    }
  },
  "required": ["queries"],
  "additionalProperties": false
}`

	LearningsSchemaJSON = `{
  "type": "object",
  "properties": {
    "learnings": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "text": {"type": "string"},
          "sources": {"type": "array", "items": {"type": "integer"}, "description": "Context index numbers supporting the learning"}
        },
        "required": ["text", "sources"],
        "additionalProperties": false
      }
    }
  },
  "required": ["learnings"],
  "additionalProperties": false
}`
)

// Structured response shapes. validate tags are enforced by completion.Structured.

// QuestionsResponse is the clarification output.
type QuestionsResponse struct {
	Questions []string `json:"questions" validate:"min=5,dive,required"`
}

// PlanResponse is the report plan output.
type PlanResponse struct {
	Sections []PlanSectionResponse `json:"sections" validate:"min=1,dive"`
}

// PlanSectionResponse is one planned section.
type PlanSectionResponse struct {
	Title   string `json:"title" validate:"required"`
	Summary string `json:"summary"`
}

// QueriesResponse is a query batch or a review proposal; empty is valid.
type QueriesResponse struct {
	Queries []QueryResponse `json:"queries" validate:"dive"`
}

// QueryResponse is one proposed SERP query.
type QueryResponse struct {
	Query        string `json:"query" validate:"required"`
	ResearchGoal string `json:"researchGoal"`
}

// LearningsResponse is the extraction output.
type LearningsResponse struct {
	Learnings []LearningResponse `json:"learnings" validate:"dive"`
}

// LearningResponse is one extracted learning with local context indexes.
type LearningResponse struct {
	Text    string `json:"text" validate:"required"`
	Sources []int  `json:"sources"`
}

var (
	schemasOnce sync.Once
	schemas     map[string]*types.Schema
)

func loadSchemas() {
	raw := map[string]string{
		"questions": QuestionsSchemaJSON,
		"plan":      PlanSchemaJSON,
		"queries":   QueriesSchemaJSON,
		"learnings": LearningsSchemaJSON,
	}
	schemas = make(map[string]*types.Schema, len(raw))
	for name, text := range raw {
		var def map[string]any
		if err := json.Unmarshal([]byte(text), &def); err != nil {
			panic(fmt.Sprintf("prompt: schema %s: %v", name, err))
		}
		schemas[name] = &types.Schema{Name: name, Definition: def}
	}
}

func schema(name string) *types.Schema {
	schemasOnce.Do(loadSchemas)
	return schemas[name]
}

// QuestionsSchema constrains clarification output.
func QuestionsSchema() *types.Schema { return schema("questions") }

// PlanSchema constrains report plan output.
func PlanSchema() *types.Schema { return schema("plan") }

// QueriesSchema constrains query batch and review output.
func QueriesSchema() *types.Schema { return schema("queries") }

// LearningsSchema constrains extraction output.
func LearningsSchema() *types.Schema { return schema("learnings") }
