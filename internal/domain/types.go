package domain

// Metadata is an unstructured JSON object: event bodies, job outputs, step inputs.
type Metadata map[string]any

func (m Metadata) Clone() Metadata {
	if m == nil {
		return Metadata{}
	}
	copy := make(Metadata, len(m))
	for k, v := range m {
		copy[k] = v
	}
	return copy
}

// Merge returns a copy of m overlaid with extra.
func (m Metadata) Merge(extra Metadata) Metadata {
	out := m.Clone()
	for k, v := range extra {
		out[k] = v
	}
	return out
}
