package tools

import "fmt"

// validateArgs checks parsed arguments against the tool's declared JSON
// Schema. Only the subset the tools actually use is enforced: top-level
// type, required keys, per-property type and enum.
func validateArgs(schema map[string]interface{}, args map[string]interface{}) error {
	if schema == nil {
		return nil
	}

	if required, ok := schema["required"].([]string); ok {
		for _, key := range required {
			if _, present := args[key]; !present {
				return fmt.Errorf("missing required parameter %q", key)
			}
		}
	} else if required, ok := schema["required"].([]interface{}); ok {
		for _, k := range required {
			key, _ := k.(string)
			if _, present := args[key]; key != "" && !present {
				return fmt.Errorf("missing required parameter %q", key)
			}
		}
	}

	props, _ := schema["properties"].(map[string]interface{})
	for key, raw := range args {
		propSchema, ok := props[key].(map[string]interface{})
		if !ok {
			continue
		}
		if err := validateValue(key, propSchema, raw); err != nil {
			return err
		}
	}
	return nil
}

func validateValue(key string, propSchema map[string]interface{}, value interface{}) error {
	if typ, ok := propSchema["type"].(string); ok {
		if !typeMatches(typ, value) {
			return fmt.Errorf("parameter %q must be of type %s", key, typ)
		}
	}

	if enum, ok := propSchema["enum"].([]interface{}); ok {
		for _, allowed := range enum {
			if allowed == value {
				return nil
			}
		}
		return fmt.Errorf("parameter %q has no allowed value %v", key, value)
	}
	if enum, ok := propSchema["enum"].([]string); ok {
		s, isString := value.(string)
		if !isString {
			return fmt.Errorf("parameter %q must be a string", key)
		}
		for _, allowed := range enum {
			if allowed == s {
				return nil
			}
		}
		return fmt.Errorf("parameter %q has no allowed value %q", key, s)
	}
	return nil
}

func typeMatches(typ string, value interface{}) bool {
	switch typ {
	case "string":
		_, ok := value.(string)
		return ok
	case "number":
		switch value.(type) {
		case float64, int:
			return true
		}
		return false
	case "integer":
		switch v := value.(type) {
		case int:
			return true
		case float64:
			return v == float64(int64(v))
		}
		return false
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "array":
		_, ok := value.([]interface{})
		return ok
	case "object":
		_, ok := value.(map[string]interface{})
		return ok
	}
	return true
}
