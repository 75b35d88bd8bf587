package colors

import "testing"

func TestMix(t *testing.T) {
	tests := []struct {
		name      string
		color     byte
		intensity byte
		want      RGB
	}{
		{name: "white", color: 0, intensity: 200, want: RGB{200, 200, 200}},
		{name: "off", color: 100, intensity: 0, want: RGB{0, 0, 0}},
		{name: "green third of wheel", color: 85, intensity: 255, want: RGB{0, 255, 3}},
		{name: "blue two thirds of wheel", color: 171, intensity: 255, want: RGB{3, 0, 255}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Mix(tt.color, tt.intensity)
			for i := range got {
				if diff := int(got[i]) - int(tt.want[i]); diff > 3 || diff < -3 {
					t.Errorf("Mix(%d, %d) = %v, want about %v", tt.color, tt.intensity, got, tt.want)
					break
				}
			}
		})
	}
}

func TestMixScalesWithIntensity(t *testing.T) {
	full := Mix(40, 255)
	half := Mix(40, 128)
	for i := range full {
		if half[i] > full[i] {
			t.Errorf("channel %d: half intensity %d brighter than full %d", i, half[i], full[i])
		}
	}
}

func TestStepCyclesHue(t *testing.T) {
	if Step(0) != (RGB{255, 0, 0}) {
		t.Errorf("Step(0) = %v, want red", Step(0))
	}
	if Step(1) == Step(0) {
		t.Error("consecutive steps have the same colour")
	}
	for n := 0; n < 64; n++ {
		c := Step(n)
		if c[0] != 255 && c[1] != 255 && c[2] != 255 {
			t.Errorf("Step(%d) = %v, expected one channel at full", n, c)
		}
	}
}
