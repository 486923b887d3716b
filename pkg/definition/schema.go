package definition

var activityTypes = []string{
	string(TypeStartEvent),
	string(TypeEndEvent),
	string(TypeUserTask),
	string(TypeServiceTask),
	string(TypeExclusiveGateway),
	string(TypeParallelGateway),
	string(TypeSubProcess),
	string(TypeEventSubProcess),
	string(TypeCallActivity),
	string(TypeBoundaryEvent),
	string(TypeIntermediateCatchEvent),
	string(TypeIntermediateThrowEvent),
}

// Schema returns the JSON schema of graph documents.
func Schema() map[string]any {
	return map[string]any{
		"$schema": "http://json-schema.org/draft-07/schema#",
		"type":    "object",
		"properties": map[string]any{
			"key": map[string]any{
				"type":        "string",
				"description": "Key shared by every version of the process",
				"minLength":   1,
			},
			"name": map[string]any{
				"type": "string",
			},
			"version": map[string]any{
				"type":    "integer",
				"minimum": 0,
			},
			"tenant_id": map[string]any{
				"type": "string",
			},
			"activities": map[string]any{
				"type":     "array",
				"minItems": 1,
				"items":    map[string]any{"$ref": "#/definitions/activity"},
			},
			"flows": map[string]any{
				"type":  "array",
				"items": map[string]any{"$ref": "#/definitions/flow"},
			},
		},
		"required": []string{"key", "activities"},
		"definitions": map[string]any{
			"activity": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"id":   map[string]any{"type": "string", "minLength": 1},
					"name": map[string]any{"type": "string"},
					"type": map[string]any{
						"type": "string",
						"enum": activityTypes,
					},
					"async":                map[string]any{"type": "boolean"},
					"event":                map[string]any{"$ref": "#/definitions/event"},
					"attached_to":          map[string]any{"type": "string"},
					"interrupting":         map[string]any{"type": "boolean"},
					"compensation_handler": map[string]any{"type": "string"},
					"for_compensation":     map[string]any{"type": "boolean"},
					"default_flow":         map[string]any{"type": "string"},
					"delegate":             map[string]any{"type": "string"},
					"config":               map[string]any{"type": "object"},
					"result_variable":      map[string]any{"type": "string"},
					"called_element":       map[string]any{"type": "string"},
					"inputs":               map[string]any{"$ref": "#/definitions/mappings"},
					"outputs":              map[string]any{"$ref": "#/definitions/mappings"},
					"activities": map[string]any{
						"type":  "array",
						"items": map[string]any{"$ref": "#/definitions/activity"},
					},
					"flows": map[string]any{
						"type":  "array",
						"items": map[string]any{"$ref": "#/definitions/flow"},
					},
				},
				"required": []string{"id", "type"},
			},
			"event": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"type": map[string]any{
						"type": "string",
						"enum": []string{"error", "timer", "message", "signal", "compensate"},
					},
					"error_code":   map[string]any{"type": "string"},
					"name":         map[string]any{"type": "string"},
					"activity_ref": map[string]any{"type": "string"},
					"async":        map[string]any{"type": "boolean"},
					"timer": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"type": map[string]any{
								"type": "string",
								"enum": []string{"date", "duration", "cycle"},
							},
							"expression": map[string]any{"type": "string", "minLength": 1},
						},
						"required": []string{"type", "expression"},
					},
				},
				"required": []string{"type"},
			},
			"flow": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"id":        map[string]any{"type": "string", "minLength": 1},
					"source":    map[string]any{"type": "string", "minLength": 1},
					"target":    map[string]any{"type": "string", "minLength": 1},
					"condition": map[string]any{"type": "string"},
				},
				"required": []string{"id", "source", "target"},
			},
			"mappings": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"source": map[string]any{"type": "string", "minLength": 1},
						"target": map[string]any{"type": "string", "minLength": 1},
					},
					"required": []string{"source", "target"},
				},
			},
		},
	}
}
