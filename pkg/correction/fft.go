package correction

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

// fft2D returns the unnormalised 2D DFT of a w*h row-major plane. Rows use
// the real transform and are completed by conjugate symmetry, columns use
// the complex transform.
func fft2D(data []float64, w, h int) []complex128 {
	result := make([]complex128, w*h)

	if w == 1 {
		for i, v := range data {
			result[i] = complex(v, 0)
		}
	} else {
		rowFFT := fourier.NewFFT(w)
		half := make([]complex128, w/2+1)
		for y := 0; y < h; y++ {
			rowFFT.Coefficients(half, data[y*w:(y+1)*w])
			row := result[y*w : (y+1)*w]
			copy(row, half)
			// F(n-k) = F*(k)
			for x := len(half); x < w; x++ {
				row[x] = cmplx.Conj(half[w-x])
			}
		}
	}

	if h > 1 {
		colFFT := fourier.NewCmplxFFT(h)
		col := make([]complex128, h)
		for x := 0; x < w; x++ {
			for y := 0; y < h; y++ {
				col[y] = result[y*w+x]
			}
			colFFT.Coefficients(col, col)
			for y := 0; y < h; y++ {
				result[y*w+x] = col[y]
			}
		}
	}
	return result
}

// ifft2D inverts fft2D and returns the real part, normalised by w*h.
func ifft2D(spec []complex128, w, h int) []float64 {
	work := append([]complex128(nil), spec...)
	if h > 1 {
		colFFT := fourier.NewCmplxFFT(h)
		col := make([]complex128, h)
		for x := 0; x < w; x++ {
			for y := 0; y < h; y++ {
				col[y] = work[y*w+x]
			}
			colFFT.Sequence(col, col)
			for y := 0; y < h; y++ {
				work[y*w+x] = col[y]
			}
		}
	}
	if w > 1 {
		rowFFT := fourier.NewCmplxFFT(w)
		for y := 0; y < h; y++ {
			row := work[y*w : (y+1)*w]
			rowFFT.Sequence(row, row)
		}
	}

	out := make([]float64, w*h)
	n := float64(w * h)
	for i, v := range work {
		out[i] = real(v) / n
	}
	return out
}

// frequency returns the signed frequency in cycles per sample of DFT bin k.
func frequency(k, n int) float64 {
	if k > n/2 {
		k -= n
	}
	return float64(k) / float64(n)
}

// mirror maps i into [0, n) by symmetric reflection at both ends.
func mirror(i, n int) int {
	period := 2 * n
	i %= period
	if i < 0 {
		i += period
	}
	if i >= n {
		i = period - 1 - i
	}
	return i
}

// gaussianBlur smooths a plane with a Gaussian of standard deviation sigma
// (pixels) applied in the frequency domain. The plane is padded by
// reflection so that the borders do not wrap around.
func gaussianBlur(plane []float64, w, h int, sigma float64) []float64 {
	if sigma <= 0 {
		return append([]float64(nil), plane...)
	}
	margin := func(n int) int {
		return min(int(math.Ceil(3*sigma)), n)
	}
	px, py := margin(w), margin(h)
	pw, ph := w+2*px, h+2*py

	padded := make([]float64, pw*ph)
	for y := 0; y < ph; y++ {
		sy := mirror(y-py, h)
		for x := 0; x < pw; x++ {
			padded[y*pw+x] = plane[sy*w+mirror(x-px, w)]
		}
	}

	spec := fft2D(padded, pw, ph)
	k := -2 * math.Pi * math.Pi * sigma * sigma
	for v := 0; v < ph; v++ {
		fy := frequency(v, ph)
		for u := 0; u < pw; u++ {
			fx := frequency(u, pw)
			spec[v*pw+u] *= complex(math.Exp(k*(fx*fx+fy*fy)), 0)
		}
	}
	smooth := ifft2D(spec, pw, ph)

	out := make([]float64, w*h)
	for y := 0; y < h; y++ {
		copy(out[y*w:(y+1)*w], smooth[(y+py)*pw+px:(y+py)*pw+px+w])
	}
	return out
}
