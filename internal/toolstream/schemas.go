package toolstream

// builtinSchemas holds the argument schema for each built-in kind. The tool
// name key is removed from the body before validation.
var builtinSchemas = map[Kind]string{
	KindReadFiles: `{
		"type": "object",
		"required": ["paths"],
		"properties": {
			"paths": {"type": "array", "minItems": 1, "items": {"type": "string", "minLength": 1}}
		}
	}`,
	KindWriteFile: `{
		"type": "object",
		"required": ["path", "content"],
		"properties": {
			"path": {"type": "string", "minLength": 1},
			"content": {"type": "string"}
		}
	}`,
	KindStrReplace: `{
		"type": "object",
		"required": ["path", "replacements"],
		"properties": {
			"path": {"type": "string", "minLength": 1},
			"replacements": {
				"type": "array",
				"minItems": 1,
				"items": {
					"type": "object",
					"required": ["old", "new"],
					"properties": {
						"old": {"type": "string", "minLength": 1},
						"new": {"type": "string"},
						"allow_multiple": {"type": "boolean"}
					}
				}
			}
		}
	}`,
	KindRunTerminalCommand: `{
		"type": "object",
		"required": ["command"],
		"properties": {
			"command": {"type": "string", "minLength": 1},
			"timeout_seconds": {"type": "integer", "minimum": 0},
			"cwd": {"type": "string"}
		}
	}`,
	KindCodeSearch: `{
		"type": "object",
		"required": ["pattern"],
		"properties": {
			"pattern": {"type": "string", "minLength": 1},
			"flags": {"type": "string"},
			"cwd": {"type": "string"},
			"max_results": {"type": "integer", "minimum": 0}
		}
	}`,
	KindFindFiles: `{
		"type": "object",
		"required": ["pattern"],
		"properties": {
			"pattern": {"type": "string", "minLength": 1}
		}
	}`,
	KindWebSearch: `{
		"type": "object",
		"required": ["query"],
		"properties": {
			"query": {"type": "string", "minLength": 1},
			"depth": {"enum": ["standard", "deep"]}
		}
	}`,
	KindThinkDeeply: `{
		"type": "object",
		"required": ["thought"],
		"properties": {
			"thought": {"type": "string"}
		}
	}`,
	KindCreatePlan: `{
		"type": "object",
		"required": ["path", "plan"],
		"properties": {
			"path": {"type": "string", "minLength": 1},
			"plan": {"type": "string"}
		}
	}`,
	KindSetMessages: `{
		"type": "object",
		"required": ["messages"],
		"properties": {
			"messages": {
				"type": "array",
				"items": {
					"type": "object",
					"required": ["role", "content"],
					"properties": {
						"role": {"enum": ["system", "user", "assistant"]},
						"content": {"type": "string"}
					}
				}
			}
		}
	}`,
	KindEndTurn: `{"type": "object"}`,
}
