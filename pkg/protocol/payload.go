package protocol

// Payload holds the action-specific fields of an envelope as decoded JSON.
// The accessors let handlers match on structure without repeating type
// assertions; each returns false when the key is absent or the wrong shape.
type Payload map[string]any

// Has reports whether the key is present, regardless of type.
func (p Payload) Has(key string) bool {
	_, ok := p[key]
	return ok
}

// String returns the string value at key.
func (p Payload) String(key string) (string, bool) {
	s, ok := p[key].(string)
	return s, ok
}

// Number returns the numeric value at key. JSON numbers always decode to
// float64.
func (p Payload) Number(key string) (float64, bool) {
	n, ok := p[key].(float64)
	return n, ok
}

// Bool returns the boolean value at key.
func (p Payload) Bool(key string) (bool, bool) {
	b, ok := p[key].(bool)
	return b, ok
}

// Map returns the object value at key.
func (p Payload) Map(key string) (map[string]any, bool) {
	m, ok := p[key].(map[string]any)
	return m, ok
}

// List returns the array value at key.
func (p Payload) List(key string) ([]any, bool) {
	l, ok := p[key].([]any)
	return l, ok
}

// Strings returns the array at key with every element asserted to string.
func (p Payload) Strings(key string) ([]string, bool) {
	raw, ok := p.List(key)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		s, ok := v.(string)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}

// Vec3 returns the coordinate triple at key. Both wire forms are accepted:
// an {x,y,z} object and a positional 3-element array.
func (p Payload) Vec3(key string) (Vec3, bool) {
	return AsVec3(p[key])
}

// AsVec3 converts a decoded JSON value into a Vec3.
func AsVec3(v any) (Vec3, bool) {
	switch val := v.(type) {
	case map[string]any:
		x, okX := val["x"].(float64)
		y, okY := val["y"].(float64)
		z, okZ := val["z"].(float64)
		if !okX || !okY || !okZ {
			return Vec3{}, false
		}
		return Vec3{X: x, Y: y, Z: z}, true
	case []any:
		if len(val) != 3 {
			return Vec3{}, false
		}
		var out Vec3
		coords := []*float64{&out.X, &out.Y, &out.Z}
		for i, c := range val {
			n, ok := c.(float64)
			if !ok {
				return Vec3{}, false
			}
			*coords[i] = n
		}
		return out, true
	default:
		return Vec3{}, false
	}
}
