package vision

import "testing"

func TestPresets(t *testing.T) {
	presets := Presets()
	if len(presets) != len(PresetNames()) {
		t.Fatalf("Presets has %d entries, PresetNames %d", len(presets), len(PresetNames()))
	}
	for _, name := range PresetNames() {
		rng := GetPreset(name)
		if rng == nil {
			t.Errorf("preset %q missing", name)
			continue
		}
		if err := rng.Validate(); err != nil {
			t.Errorf("preset %q invalid: %v", name, err)
		}
	}
	if GetPreset("purple") != nil {
		t.Error("unknown preset should be nil")
	}
}

func TestPresetsMatchTheirColor(t *testing.T) {
	tests := []struct {
		name  string
		pixel BGR
	}{
		{PresetRed, BGR{B: 20, G: 20, R: 200}},
		{PresetGreen, BGR{B: 30, G: 200, R: 30}},
		{PresetBlue, BGR{B: 200, G: 30, R: 30}},
		{PresetYellow, BGR{B: 20, G: 220, R: 230}},
		{PresetOrange, BGR{B: 10, G: 128, R: 250}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if !GetPreset(tc.name).Contains(tc.pixel) {
				t.Errorf("%s preset should contain %+v", tc.name, tc.pixel)
			}
		})
	}
	if GetPreset(PresetRed).Contains(BGR{B: 30, G: 200, R: 30}) {
		t.Error("red preset should not contain green")
	}
}
