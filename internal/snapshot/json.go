package snapshot

import (
	"encoding/json"
	"time"

	"github.com/rindang/driftwatch/pkg/diff"
)

// jsonEncoder emits a self-describing envelope: run metadata up top,
// then the three change classes in full.
type jsonEncoder struct{}

func NewJSONEncoder() Encoder { return jsonEncoder{} }

func (jsonEncoder) Format() string      { return "json" }
func (jsonEncoder) ContentType() string { return "application/json" }
func (jsonEncoder) Extension() string   { return "json" }

type jsonEnvelope struct {
	Datasource string             `json:"datasource"`
	Table      string             `json:"table"`
	RunID      string             `json:"run_id"`
	Timestamp  time.Time          `json:"timestamp"`
	Added      []diff.Row         `json:"added"`
	Modified   []jsonModification `json:"modified"`
	Deleted    []diff.Key         `json:"deleted"`
}

type jsonModification struct {
	Key diff.Key `json:"key"`
	Row diff.Row `json:"row"`
}

func (jsonEncoder) Encode(cs *diff.ChangeSet, meta Meta) ([]byte, error) {
	env := jsonEnvelope{
		Datasource: meta.Datasource,
		Table:      meta.Table,
		RunID:      meta.RunID,
		Timestamp:  meta.Timestamp.UTC(),
		Added:      cs.Added,
		Deleted:    cs.Deleted,
		Modified:   make([]jsonModification, 0, len(cs.Modified)),
	}
	for _, m := range cs.Modified {
		env.Modified = append(env.Modified, jsonModification{Key: m.Key, Row: m.Row})
	}
	return json.MarshalIndent(env, "", "  ")
}
