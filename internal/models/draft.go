package models

import "time"

// DraftSchemaVersion is the editor data version stamped on drafts saved
// without one.
const DraftSchemaVersion = "2.19.0"

// Draft is the single editable document, in editor.js output layout.
type Draft struct {
	Time    int64   `json:"time,omitempty"`
	Version string  `json:"version,omitempty"`
	Blocks  []Block `json:"blocks"`
}

// WelcomeDraft returns the draft shown when nothing has been saved yet.
func WelcomeDraft() Draft {
	return Draft{
		Blocks: []Block{
			NewBlock(HeaderData{Text: "Editor.js", Level: 2}),
			NewBlock(ParagraphData{Text: "Hey. Meet the new Editor. On this page you can see it in action. Try to edit this text."}),
		},
	}
}

// LocalKeys returns the local image keys referenced by the draft, in block order.
func (d Draft) LocalKeys() []LocalImageKey {
	var keys []LocalImageKey
	for _, block := range d.Blocks {
		if img, ok := block.Image(); ok && img.IsLocal() {
			keys = append(keys, *img.File.Key)
		}
	}
	return keys
}

// Stamp fills Time and Version when they are unset.
func (d *Draft) Stamp(now time.Time) {
	if d.Time == 0 {
		d.Time = now.UnixMilli()
	}
	if d.Version == "" {
		d.Version = DraftSchemaVersion
	}
	if d.Blocks == nil {
		d.Blocks = []Block{}
	}
}
