package dataset

import (
	"encoding/json"
	"sort"
)

// RulebaseField is the field carrying the accumulated rules of a layer.
const RulebaseField = "rulebase"

// Layer is an access layer with the rules of every rule base page fetched
// for it.
type Layer struct {
	Record Record
	Rules  []any
}

// UID returns the layer identifier.
func (l *Layer) UID() string { return l.Record.UID() }

// MarshalJSON encodes the layer object with its rules under "rulebase".
func (l *Layer) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(l.Record)+1)
	for k, v := range l.Record {
		out[k] = v
	}
	rules := l.Rules
	if rules == nil {
		rules = []any{}
	}
	out[RulebaseField] = rules
	return json.Marshal(out)
}

// MergeResult describes what AddRecord did with a record.
type MergeResult string

const (
	// Inserted means the UID was new.
	Inserted MergeResult = "inserted"

	// Replaced means the new record had a longer encoding and won.
	Replaced MergeResult = "replaced"

	// Kept means the existing record was at least as long and stayed.
	Kept MergeResult = "kept"
)

// Dataset is the merged export. Every record UID and every layer UID occurs
// at most once.
//
// When a UID is seen twice the record with the strictly longer canonical
// encoding is kept. This is a heuristic: the API returns the same object at
// different levels of detail depending on where it is embedded, and the
// longer form is assumed to carry more information. Numbers are measured as
// received, so a float the API renders as "1E5" counts five bytes where a
// re-encoding would give "100000.0".
type Dataset struct {
	records map[string]Record
	layers  map[string]*Layer
}

// New creates an empty dataset.
func New() *Dataset {
	return &Dataset{
		records: make(map[string]Record),
		layers:  make(map[string]*Layer),
	}
}

// AddRecord folds r into the record dictionary.
func (d *Dataset) AddRecord(r Record) (MergeResult, error) {
	uid := r.UID()
	if uid == "" {
		return "", ErrMissingUID
	}

	existing, ok := d.records[uid]
	if !ok {
		d.records[uid] = r
		return Inserted, nil
	}
	if r.EncodedLen() > existing.EncodedLen() {
		d.records[uid] = r
		return Replaced, nil
	}
	return Kept, nil
}

// AddLayer creates a layer for r unless its UID is already known. An
// existing layer and its rules are never replaced.
func (d *Dataset) AddLayer(r Record) (*Layer, bool, error) {
	uid := r.UID()
	if uid == "" {
		return nil, false, ErrMissingUID
	}
	if l, ok := d.layers[uid]; ok {
		return l, false, nil
	}

	rec := make(Record, len(r))
	for k, v := range r {
		if k != RulebaseField {
			rec[k] = v
		}
	}
	l := &Layer{Record: rec, Rules: []any{}}
	d.layers[uid] = l
	return l, true, nil
}

// AppendRules appends rules to the layer with the given UID.
func (d *Dataset) AppendRules(layerUID string, rules []any) error {
	l, ok := d.layers[layerUID]
	if !ok {
		return &UnknownLayerError{UID: layerUID}
	}
	l.Rules = append(l.Rules, rules...)
	return nil
}

// Record returns the record with the given UID.
func (d *Dataset) Record(uid string) (Record, bool) {
	r, ok := d.records[uid]
	return r, ok
}

// Layer returns the layer with the given UID.
func (d *Dataset) Layer(uid string) (*Layer, bool) {
	l, ok := d.layers[uid]
	return l, ok
}

// Len returns the number of records.
func (d *Dataset) Len() int { return len(d.records) }

// Records returns all records sorted by UID.
func (d *Dataset) Records() []Record {
	out := make([]Record, 0, len(d.records))
	for _, r := range d.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID() < out[j].UID() })
	return out
}

// Layers returns all layers sorted by UID.
func (d *Dataset) Layers() []*Layer {
	out := make([]*Layer, 0, len(d.layers))
	for _, l := range d.layers {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID() < out[j].UID() })
	return out
}

// Document is the exported JSON shape.
type Document struct {
	ObjectsDictionary []Record `json:"objects-dictionary"`
	Layers            []*Layer `json:"layers"`
}

// Document returns the sorted export document.
func (d *Dataset) Document() Document {
	return Document{
		ObjectsDictionary: d.Records(),
		Layers:            d.Layers(),
	}
}

// MarshalJSON encodes the sorted export document.
func (d *Dataset) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Document())
}
