package schema

// JSON Schema documents for the three analysis shapes. Confidence fields
// accept a number in [0,1] or an enum label; numeric normalization happens
// after structural validation, in the model decode step.

const confidenceDefs = `
	"$defs": {
		"confidence": {
			"anyOf": [
				{"type": "number", "minimum": 0, "maximum": 1},
				{"enum": ["low", "medium", "med", "high"]}
			]
		},
		"source": {
			"type": "object",
			"properties": {
				"title": {"type": "string"},
				"url": {"type": "string"},
				"publisher": {"type": "string"},
				"date": {"type": "string"}
			},
			"anyOf": [
				{"required": ["title"]},
				{"required": ["url"]}
			]
		},
		"sources": {
			"type": "array",
			"items": {"$ref": "#/$defs/source"}
		}
	}`

const impactSchema = `{
	"type": "object",
	"required": ["type", "summary", "items"],
	"properties": {
		"type": {"const": "impact"},
		"summary": {"type": "string", "minLength": 1},
		"items": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["claim", "direction", "magnitude", "confidence"],
				"properties": {
					"claim": {"type": "string", "minLength": 1},
					"direction": {"enum": ["positive", "negative", "neutral"]},
					"magnitude": {"type": "number", "minimum": 0, "maximum": 1},
					"confidence": {"$ref": "#/$defs/confidence"},
					"sources": {"$ref": "#/$defs/sources"}
				}
			}
		},
		"overallConfidence": {"$ref": "#/$defs/confidence"}
	},
` + confidenceDefs + `
}`

const alternativesSchema = `{
	"type": "object",
	"required": ["type", "summary", "options"],
	"properties": {
		"type": {"const": "alternatives"},
		"summary": {"type": "string", "minLength": 1},
		"options": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["title", "description", "feasibility", "expectedImpact", "confidence"],
				"properties": {
					"title": {"type": "string", "minLength": 1},
					"description": {"type": "string"},
					"pros": {"type": "array", "items": {"type": "string"}},
					"cons": {"type": "array", "items": {"type": "string"}},
					"feasibility": {"enum": ["low", "med", "medium", "high"]},
					"expectedImpact": {"enum": ["low", "med", "medium", "high"]},
					"confidence": {"$ref": "#/$defs/confidence"},
					"sources": {"$ref": "#/$defs/sources"}
				}
			}
		}
	},
` + confidenceDefs + `
}`

const factcheckSchema = `{
	"type": "object",
	"required": ["type", "summary", "items"],
	"properties": {
		"type": {"const": "factcheck"},
		"summary": {"type": "string", "minLength": 1},
		"items": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["claim", "verdict", "confidence"],
				"properties": {
					"claim": {"type": "string", "minLength": 1},
					"verdict": {"enum": ["true", "false", "mixed", "unverified"]},
					"rationale": {"type": "string"},
					"confidence": {"$ref": "#/$defs/confidence"},
					"sources": {"$ref": "#/$defs/sources"}
				}
			}
		}
	},
` + confidenceDefs + `
}`
