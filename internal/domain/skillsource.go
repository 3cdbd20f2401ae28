package domain

import (
	"encoding/json"
	"regexp"
	"strings"
)

// SkillOutputMarker prefixes the line carrying a skill's return value in
// sandbox stdout.
const SkillOutputMarker = "Output from skill: "

// ExtractSkillOutput returns the skill's result from sandbox stdout.
// When the marker is absent the full stdout is returned as-is so
// diagnostic output still reaches the caller.
func ExtractSkillOutput(stdout string) string {
	if idx := strings.Index(stdout, SkillOutputMarker); idx >= 0 {
		return strings.TrimRight(stdout[idx+len(SkillOutputMarker):], "\n")
	}
	return stdout
}

var (
	skillClassRe = regexp.MustCompile(`(?m)^class\s+([A-Za-z_]\w*)\s*\(\s*BaseTool\s*\)\s*:`)
	skillFieldRe = regexp.MustCompile(`(?m)^[ \t]+([a-z_]\w*)\s*:\s*([A-Za-z_]\w*)(\s*=\s*\S.*)?$`)
)

// ExtractClassName returns the first BaseTool subclass defined in skill
// source, or "" when none is present.
func ExtractClassName(source string) string {
	m := skillClassRe.FindStringSubmatch(source)
	if m == nil {
		return ""
	}
	return m[1]
}

// pythonTypeToJSON maps annotation names to JSON Schema types. Unknown
// annotations degrade to string so argument synthesis still has a shape
// to aim at.
func pythonTypeToJSON(name string) string {
	switch name {
	case "str":
		return "string"
	case "int":
		return "integer"
	case "float":
		return "number"
	case "bool":
		return "boolean"
	default:
		return "string"
	}
}

// ExtractSchema derives a parameter schema from the annotated fields of
// a skill's class body. Fields with a default value are optional; bare
// annotations are required.
func ExtractSchema(name, description, source string) (SkillSchema, error) {
	properties := map[string]map[string]string{}
	var required []string

	for _, m := range skillFieldRe.FindAllStringSubmatch(source, -1) {
		field, annotation, def := m[1], m[2], m[3]
		if strings.HasPrefix(field, "_") {
			continue
		}
		if _, seen := properties[field]; seen {
			continue
		}
		properties[field] = map[string]string{"type": pythonTypeToJSON(annotation)}
		if def == "" {
			required = append(required, field)
		}
	}

	doc := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		doc["required"] = required
	}
	params, err := json.Marshal(doc)
	if err != nil {
		return SkillSchema{}, err
	}
	return SkillSchema{
		Name:        name,
		Description: description,
		Parameters:  params,
	}, nil
}
