package service

import "encoding/json"

// deepMerge combines two decoded JSON values, preferring remote where
// they disagree.
//
// Objects take the union of keys. Arrays keep every remote element
// first, then append local elements that remote does not already hold.
// Array elements that are objects with an "id" field are matched by id
// and merged; other elements are matched by their canonical JSON.
// Merging the result with either input again yields the same result.
func deepMerge(local, remote any) any {
	switch r := remote.(type) {
	case map[string]any:
		l, ok := local.(map[string]any)
		if !ok {
			return remote
		}
		return mergeObjects(l, r)
	case []any:
		l, ok := local.([]any)
		if !ok {
			return remote
		}
		return mergeArrays(l, r)
	default:
		return remote
	}
}

func mergeObjects(local, remote map[string]any) map[string]any {
	out := make(map[string]any, len(remote)+len(local))
	for k, rv := range remote {
		lv, ok := local[k]
		if !ok {
			out[k] = rv
			continue
		}
		out[k] = deepMerge(lv, rv)
	}
	for k, lv := range local {
		if _, ok := remote[k]; !ok {
			out[k] = lv
		}
	}
	return out
}

func mergeArrays(local, remote []any) []any {
	out := make([]any, 0, len(remote)+len(local))
	byID := make(map[string]int)
	seen := make(map[string]struct{})

	for _, rv := range remote {
		if id, ok := elementID(rv); ok {
			if _, dup := byID[id]; dup {
				continue
			}
			byID[id] = len(out)
		} else {
			key := canonical(rv)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
		}
		out = append(out, rv)
	}

	for _, lv := range local {
		if id, ok := elementID(lv); ok {
			if i, found := byID[id]; found {
				out[i] = deepMerge(lv, out[i])
				continue
			}
			byID[id] = len(out)
			out = append(out, lv)
			continue
		}
		key := canonical(lv)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, lv)
	}

	return out
}

func elementID(v any) (string, bool) {
	obj, ok := v.(map[string]any)
	if !ok {
		return "", false
	}
	id, ok := obj["id"]
	if !ok || id == nil {
		return "", false
	}
	return canonical(id), true
}

// canonical returns a stable string form of a decoded JSON value.
// encoding/json sorts map keys, so equal values produce equal strings.
func canonical(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

func equalValues(a, b any) bool {
	return canonical(a) == canonical(b)
}
