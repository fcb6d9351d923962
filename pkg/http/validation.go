package http

import (
	"encoding/json"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"grit-server/pkg/errors"
)

// Request schemas. Unknown top-level fields are rejected so client typos
// fail loudly instead of being silently ignored.

const startSessionSchema = `{
	"type": "object",
	"additionalProperties": false,
	"required": ["session_id", "subject_id", "activity_domain"],
	"properties": {
		"session_id": {"type": "string", "minLength": 1, "maxLength": 128},
		"subject_id": {"type": "string", "minLength": 1, "maxLength": 128},
		"activity_domain": {"enum": ["baseball", "softball", "football", "basketball"]},
		"consent_token": {"type": "string"},
		"capture": {
			"type": "object",
			"additionalProperties": false,
			"properties": {
				"target_fps": {"type": "integer", "minimum": 1, "maximum": 240},
				"enabled_channels": {"type": "array", "items": {"type": "string"}}
			}
		}
	}
}`

const telemetrySchema = `{
	"type": "object",
	"additionalProperties": false,
	"required": ["session_id", "packets"],
	"properties": {
		"session_id": {"type": "string", "minLength": 1},
		"packets": {
			"type": "array",
			"minItems": 1,
			"maxItems": 500,
			"items": {
				"type": "object",
				"additionalProperties": false,
				"required": ["session_id", "timestamp"],
				"properties": {
					"session_id": {"type": "string", "minLength": 1},
					"timestamp": {"type": "integer", "minimum": 0},
					"facial": {
						"type": "object",
						"additionalProperties": false,
						"properties": {
							"blink": {"type": "boolean"},
							"eye_aperture": {"type": "number", "minimum": 0, "maximum": 1},
							"gaze": {"type": "array", "items": {"type": "number"}, "minItems": 3, "maxItems": 3},
							"head_pose": {"type": "array", "items": {"type": "number"}, "minItems": 3, "maxItems": 3},
							"action_units": {
								"type": "object",
								"additionalProperties": false,
								"properties": {
									"brow_furrow": {"type": "number", "minimum": 0, "maximum": 1},
									"lid_tighten": {"type": "number", "minimum": 0, "maximum": 1},
									"lip_press": {"type": "number", "minimum": 0, "maximum": 1},
									"nostril_flare": {"type": "number", "minimum": 0, "maximum": 1},
									"jaw_clench": {"type": "number", "minimum": 0, "maximum": 1}
								}
							},
							"quality": {"$ref": "#/$defs/quality"}
						}
					},
					"biomech": {
						"type": "object",
						"additionalProperties": false,
						"properties": {
							"keypoints": {
								"type": "array",
								"items": {
									"type": "object",
									"additionalProperties": false,
									"properties": {
										"x": {"type": "number"},
										"y": {"type": "number"},
										"z": {"type": "number"},
										"confidence": {"type": "number", "minimum": 0, "maximum": 1}
									}
								}
							},
							"angles": {
								"type": "object",
								"additionalProperties": false,
								"properties": {
									"arm_slot": {"type": "number"},
									"stride_length": {"type": "number"},
									"hip_shoulder_sep": {"type": "number"},
									"spine_tilt": {"type": "number"},
									"lead_knee_flex": {"type": "number"},
									"shoulder_abduction": {"type": "number"}
								}
							},
							"balance": {"type": "number", "minimum": 0, "maximum": 1},
							"consistency": {"type": "number", "minimum": 0, "maximum": 1},
							"quality": {"$ref": "#/$defs/quality"}
						}
					},
					"device": {
						"type": "object",
						"additionalProperties": false,
						"properties": {
							"frame_rate": {"type": "integer", "minimum": 0},
							"resolution": {"type": "string"},
							"has_face_model": {"type": "boolean"},
							"has_pose_model": {"type": "boolean"}
						}
					}
				}
			}
		}
	},
	"$defs": {
		"quality": {
			"type": "object",
			"additionalProperties": false,
			"properties": {
				"confidence": {"type": "number", "minimum": 0, "maximum": 1},
				"tracking": {"type": "boolean"},
				"occluded": {"type": "boolean"}
			}
		}
	}
}`

const situationSchema = `{
	"type": "object",
	"additionalProperties": false,
	"required": ["session_id", "situation"],
	"properties": {
		"session_id": {"type": "string", "minLength": 1},
		"situation": {
			"type": "object",
			"additionalProperties": false,
			"required": ["inning", "outs", "base_state"],
			"properties": {
				"inning": {"type": "integer", "minimum": 1, "maximum": 30},
				"outs": {"type": "integer", "minimum": 0, "maximum": 2},
				"base_state": {"enum": ["empty", "first", "second", "third", "first_second", "first_third", "second_third", "loaded"]},
				"score_diff": {"type": "integer", "minimum": -100, "maximum": 100}
			}
		}
	}
}`

const eventSchema = `{
	"type": "object",
	"additionalProperties": false,
	"required": ["session_id", "event"],
	"properties": {
		"session_id": {"type": "string", "minLength": 1},
		"event": {
			"type": "object",
			"additionalProperties": false,
			"required": ["type"],
			"properties": {
				"type": {"type": "string", "minLength": 1, "maxLength": 64},
				"label": {"type": "string", "maxLength": 128},
				"outcome": {"type": "string", "maxLength": 64},
				"timestamp": {"type": "integer", "minimum": 0},
				"metadata": {"type": "object"}
			}
		}
	}
}`

var (
	compiledStartSchema     = mustCompileSchema("start_session.json", startSessionSchema)
	compiledTelemetrySchema = mustCompileSchema("telemetry.json", telemetrySchema)
	compiledSituationSchema = mustCompileSchema("situation.json", situationSchema)
	compiledEventSchema     = mustCompileSchema("event.json", eventSchema)
)

func mustCompileSchema(name, source string) *jsonschema.Schema {
	return jsonschema.MustCompileString(name, source)
}

// validateBody checks raw JSON against a schema and returns a 400-class
// error naming the offending fields.
func validateBody(schema *jsonschema.Schema, raw []byte) error {
	var payload interface{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return errors.NewInvalidInput("request body is not valid JSON")
	}

	if err := schema.Validate(payload); err != nil {
		verr, ok := err.(*jsonschema.ValidationError)
		if !ok {
			return errors.NewInvalidInput("request body failed validation")
		}
		return errors.NewInvalidInput("request body failed validation").
			WithField("fields", offendingFields(verr))
	}
	return nil
}

// offendingFields flattens a validation error tree into the instance
// locations that actually failed.
func offendingFields(verr *jsonschema.ValidationError) []string {
	seen := make(map[string]struct{})
	var out []string
	var walk func(v *jsonschema.ValidationError)
	walk = func(v *jsonschema.ValidationError) {
		if len(v.Causes) == 0 {
			loc := v.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			if _, dup := seen[loc]; !dup {
				seen[loc] = struct{}{}
				out = append(out, loc)
			}
			return
		}
		for _, cause := range v.Causes {
			walk(cause)
		}
	}
	walk(verr)
	return out
}
