package event

// stringField reads a string value. Numbers and other types yield "".
func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)

	return s
}

// idField reads either a plain id string or an expanded object's "id".
func idField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	switch v := m[key].(type) {
	case string:
		return v
	case map[string]any:
		return stringField(v, "id")
	default:
		return ""
	}
}

func mapField(m map[string]any, key string) map[string]any {
	if m == nil {
		return nil
	}
	child, _ := m[key].(map[string]any)

	return child
}

// firstMap returns the first element of an array-of-objects field.
func firstMap(m map[string]any, key string) map[string]any {
	if m == nil {
		return nil
	}
	items, _ := m[key].([]any)
	if len(items) == 0 {
		return nil
	}
	first, _ := items[0].(map[string]any)

	return first
}

// StringPath walks nested objects and returns the string at the end of path.
func StringPath(m map[string]any, path ...string) string {
	if len(path) == 0 {
		return ""
	}
	for _, key := range path[:len(path)-1] {
		m = mapField(m, key)
	}

	return stringField(m, path[len(path)-1])
}
