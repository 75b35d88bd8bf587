// Package colors converts single-byte colour and intensity faders into RGB.
package colors

import colorful "github.com/lucasb-eyer/go-colorful"

// stepHue is how far the hue wheel turns per program step.
const stepHue = 9

// RGB is one three-channel fixture value.
type RGB [3]byte

// Mix maps color (a position on the hue wheel, 0-255) and intensity to RGB.
// Color 0 is white so a fixture with only its intensity fader up still lights.
func Mix(color, intensity byte) RGB {
	if color == 0 {
		return RGB{intensity, intensity, intensity}
	}
	return hsv(hue(color), float64(intensity)/255)
}

// Step returns the colour for program step n at full intensity.
func Step(n int) RGB {
	return hsv(hue(byte(n*stepHue)), 1)
}

func hue(b byte) float64 {
	return float64(b) * 360 / 256
}

func hsv(h, v float64) RGB {
	r, g, b := colorful.Hsv(h, 1, v).Clamped().RGB255()
	return RGB{r, g, b}
}
