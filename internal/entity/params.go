package entity

import "sort"

// Params is the internal mapping form of parameters and annotations.
type Params map[string]any

// KeyValue is the external list form used on the wire:
// [{"key": k, "value": v}, ...].
type KeyValue struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// ParamsFromList converts the external list form to the mapping form.
// Later duplicates win.
func ParamsFromList(items []KeyValue) Params {
	if len(items) == 0 {
		return Params{}
	}
	p := make(Params, len(items))
	for _, it := range items {
		p[it.Key] = it.Value
	}
	return p
}

// ToList converts the mapping form to the external list form, sorted by
// key so responses are deterministic.
func (p Params) ToList() []KeyValue {
	if len(p) == 0 {
		return []KeyValue{}
	}
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]KeyValue, 0, len(keys))
	for _, k := range keys {
		out = append(out, KeyValue{Key: k, Value: p[k]})
	}
	return out
}

// Lookup returns the value for key, or def when absent.
func (p Params) Lookup(key string, def any) any {
	if v, ok := p[key]; ok {
		return v
	}
	return def
}

// ResultParams turns an activation result into the input params for a
// downstream invocation. Mapping results pass through; anything else is
// wrapped as {"result": value}.
func ResultParams(v any) Params {
	switch m := v.(type) {
	case nil:
		return Params{}
	case Params:
		return m
	case map[string]any:
		return Params(m)
	default:
		return Params{"result": v}
	}
}

// Merge returns defaults overridden by overrides. Neither input is
// mutated.
func Merge(defaults, overrides Params) Params {
	merged := make(Params, len(defaults)+len(overrides))
	for k, v := range defaults {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return merged
}
