package aiclient

const actionResponseSchemaName = "holon_action_response"

// ActionResponseSchema is the JSON schema pinned onto structured
// completions: an object with an actions array of {action, params}
// entries, matching what the response parser expects.
func ActionResponseSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"actions": map[string]any{
				"type":        "array",
				"description": "List of actions to execute",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"action": map[string]any{
							"type":        "string",
							"description": "The name of the action to call",
						},
						"params": map[string]any{
							"type":                 "object",
							"description":          "Parameters to pass to the action",
							"additionalProperties": true,
						},
					},
					"required":             []string{"action"},
					"additionalProperties": false,
				},
			},
		},
		"required":             []string{"actions"},
		"additionalProperties": false,
	}
}
