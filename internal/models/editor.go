package models

// PositionalDelta describes one text edit: replace Length characters starting
// at character Offset with Text. Offsets are measured against the document as
// it was before the edit.
type PositionalDelta struct {
	Offset int    `json:"offset" validate:"min=0"`
	Length int    `json:"length" validate:"min=0"`
	Text   string `json:"text"`
}

// ApplyDelta applies d to base and returns the resulting document. Out-of-range
// offsets and lengths are clamped rather than rejected so that a delta computed
// against a marginally stale mirror still lands instead of wedging the session.
// Offsets count runes, not bytes.
func ApplyDelta(base string, d PositionalDelta) string {
	runes := []rune(base)

	offset := d.Offset
	if offset < 0 {
		offset = 0
	}
	if offset > len(runes) {
		offset = len(runes)
	}

	length := d.Length
	if length < 0 {
		length = 0
	}
	end := offset + length
	if end > len(runes) {
		end = len(runes)
	}

	return string(runes[:offset]) + d.Text + string(runes[end:])
}
