package model

import (
	"image"

	"github.com/nfnt/resize"
)

// Preprocess converts an image to the planar CHW float layout a backbone
// expects. Pixels are scaled to [0,1], then each channel c becomes
// (v-mean[c])/std[c] when mean and std are given.
func Preprocess(img image.Image, size int, mean, std []float32) []float32 {
	resized := resize.Resize(uint(size), uint(size), img, resize.Lanczos3)

	bounds := resized.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	plane := width * height

	data := make([]float32, 3*plane)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b, _ := resized.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			i := y*width + x
			data[i] = float32(r) / 65535.0
			data[plane+i] = float32(g) / 65535.0
			data[2*plane+i] = float32(b) / 65535.0
		}
	}

	if len(mean) == 3 && len(std) == 3 {
		for c := 0; c < 3; c++ {
			ch := data[c*plane : (c+1)*plane]
			for i := range ch {
				ch[i] = (ch[i] - mean[c]) / std[c]
			}
		}
	}
	return data
}
