package models

// Stroke modes.
const (
	StrokeModeDraw  = "draw"
	StrokeModeErase = "erase"
)

// Point is one sampled position of a stroke, in canvas pixels.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// StrokeAction is one entry of a session's sketch log. The board state is
// always the in-order replay of every action since the last clear; the log is
// append-only and never edited in place.
type StrokeAction struct {
	Type      string  `json:"type" validate:"required,eq=stroke"`
	Points    []Point `json:"points" validate:"required,min=1"`
	Color     string  `json:"color"`
	LineWidth float64 `json:"lineWidth"`
	Mode      string  `json:"mode" validate:"omitempty,oneof=draw erase"`
}
