package vision

// Preset names for common ball colors
const (
	PresetRed    = "red"
	PresetGreen  = "green"
	PresetBlue   = "blue"
	PresetYellow = "yellow"
	PresetOrange = "orange"
)

// Presets returns all available color ranges by name.
func Presets() map[string]ColorRange {
	return map[string]ColorRange{
		PresetRed:    RedBall(),
		PresetGreen:  {Lower: BGR{B: 0, G: 60, R: 0}, Upper: BGR{B: 80, G: 255, R: 80}},
		PresetBlue:   {Lower: BGR{B: 60, G: 0, R: 0}, Upper: BGR{B: 255, G: 80, R: 80}},
		PresetYellow: {Lower: BGR{B: 0, G: 120, R: 120}, Upper: BGR{B: 80, G: 255, R: 255}},
		PresetOrange: {Lower: BGR{B: 0, G: 70, R: 180}, Upper: BGR{B: 70, G: 180, R: 255}},
	}
}

// PresetNames returns the list of available preset names.
func PresetNames() []string {
	return []string{PresetRed, PresetGreen, PresetBlue, PresetYellow, PresetOrange}
}

// GetPreset returns a preset range by name, or nil if not found.
func GetPreset(name string) *ColorRange {
	if rng, ok := Presets()[name]; ok {
		return &rng
	}
	return nil
}

// RedBall is the default range: a saturated red ball under indoor light.
func RedBall() ColorRange {
	return ColorRange{
		Lower: BGR{B: 0, G: 0, R: 60},
		Upper: BGR{B: 50, G: 50, R: 255},
	}
}
