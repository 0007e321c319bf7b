package extractor

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/xkilldash9x/ehr-cua/internal/agent"
)

// Names of the domain tools the model may call.
const (
	ToolNavigateToPatient  = "navigate_to_patient"
	ToolRecordDiagnoses    = "record_diagnoses"
	ToolRecordMedications  = "record_medications"
	ToolCompleteExtraction = "complete_extraction"
)

type object = map[string]any

func stringProp(description string) object {
	return object{"type": "string", "description": description}
}

var toolDefinitions = []agent.FunctionTool{
	{
		Type:        "function",
		Name:        ToolNavigateToPatient,
		Description: "Navigate to a specific patient's chart in the EHR system",
		Parameters: mustMarshal(object{
			"type": "object",
			"properties": object{
				"patient_id": stringProp("The patient ID or identifier to navigate to"),
				"success":    object{"type": "boolean", "description": "Whether navigation was successful"},
			},
			"required": []string{"patient_id", "success"},
		}),
	},
	{
		Type:        "function",
		Name:        ToolRecordDiagnoses,
		Description: "Record ICD-10 diagnoses found in the patient chart",
		Parameters: mustMarshal(object{
			"type": "object",
			"properties": object{
				"diagnoses": object{
					"type":        "array",
					"description": "List of ICD-10 diagnoses found",
					"items": object{
						"type": "object",
						"properties": object{
							"icd10_code":  stringProp("ICD-10 code (e.g., Z00.00)"),
							"description": stringProp("Human readable diagnosis description"),
							"status":      stringProp("Status (active, resolved, etc.)"),
							"date":        stringProp("Date of diagnosis if available"),
						},
						"required": []string{"icd10_code", "description"},
					},
				},
			},
			"required": []string{"diagnoses"},
		}),
	},
	{
		Type:        "function",
		Name:        ToolRecordMedications,
		Description: "Record active medications found in the patient chart",
		Parameters: mustMarshal(object{
			"type": "object",
			"properties": object{
				"medications": object{
					"type":        "array",
					"description": "List of active medications found",
					"items": object{
						"type": "object",
						"properties": object{
							"name":       stringProp("Medication name"),
							"dosage":     stringProp("Dosage amount and unit"),
							"frequency":  stringProp("How often taken"),
							"route":      stringProp("Route of administration"),
							"status":     stringProp("Status (active, discontinued, etc.)"),
							"prescriber": stringProp("Prescribing provider if available"),
						},
						"required": []string{"name"},
					},
				},
			},
			"required": []string{"medications"},
		}),
	},
	{
		Type:        "function",
		Name:        ToolCompleteExtraction,
		Description: "Mark the extraction as complete and save results",
		Parameters: mustMarshal(object{
			"type": "object",
			"properties": object{
				"success":           object{"type": "boolean", "description": "Whether extraction was successful"},
				"summary":           stringProp("Summary of what was extracted"),
				"total_diagnoses":   object{"type": "integer", "description": "Total number of diagnoses found"},
				"total_medications": object{"type": "integer", "description": "Total number of medications found"},
			},
			"required": []string{"success", "summary"},
		}),
	},
}

// Tools returns the four domain tool declarations in a fixed order.
func Tools() []agent.FunctionTool {
	out := make([]agent.FunctionTool, len(toolDefinitions))
	copy(out, toolDefinitions)
	return out
}

// compileSchemas compiles each tool's parameter schema for argument validation.
func compileSchemas(tools []agent.FunctionTool) (map[string]*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	for _, t := range tools {
		if err := compiler.AddResource(t.Name+".json", bytes.NewReader(t.Parameters)); err != nil {
			return nil, fmt.Errorf("failed to load schema for %s: %w", t.Name, err)
		}
	}

	compiled := make(map[string]*jsonschema.Schema, len(tools))
	for _, t := range tools {
		s, err := compiler.Compile(t.Name + ".json")
		if err != nil {
			return nil, fmt.Errorf("failed to compile schema for %s: %w", t.Name, err)
		}
		compiled[t.Name] = s
	}
	return compiled, nil
}

func jsonError(msg string) string {
	b, _ := json.Marshal(map[string]any{"error": msg})
	return string(b)
}

// mustMarshal marshals a value to JSON, panicking on error.
// Used for static tool schemas.
func mustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
