package rppg

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Resample linearly interpolates the chronological samples onto a uniform
// grid at hz, starting at the first sample. It returns nil when fewer than
// two samples are given.
func Resample(samples []PulseSample, hz float64) []float64 {
	if len(samples) < 2 || hz <= 0 {
		return nil
	}
	t0 := samples[0].Timestamp
	span := samples[len(samples)-1].Timestamp.Sub(t0).Seconds()
	n := int(span*hz) + 1
	out := make([]float64, n)

	j := 0
	for i := range out {
		t := float64(i) / hz
		for j < len(samples)-2 && samples[j+1].Timestamp.Sub(t0).Seconds() < t {
			j++
		}
		ta := samples[j].Timestamp.Sub(t0).Seconds()
		tb := samples[j+1].Timestamp.Sub(t0).Seconds()
		a, b := samples[j].MeanIntensity, samples[j+1].MeanIntensity
		if tb <= ta {
			out[i] = b
			continue
		}
		frac := (t - ta) / (tb - ta)
		frac = min(max(frac, 0), 1)
		out[i] = a + frac*(b-a)
	}
	return out
}

// Detrend subtracts the mean of x in place and returns x.
func Detrend(x []float64) []float64 {
	if len(x) == 0 {
		return x
	}
	floats.AddConst(-stat.Mean(x, nil), x)
	return x
}

// BandPass returns x with all spectral content outside [lowHz, highHz]
// removed. fs is the sample rate of x in Hz. The input is not modified.
func BandPass(x []float64, fs, lowHz, highHz float64) []float64 {
	n := len(x)
	if n == 0 {
		return nil
	}
	fft := fourier.NewFFT(n)
	coeff := fft.Coefficients(nil, x)
	for i := range coeff {
		f := fft.Freq(i) * fs
		if f < lowHz || f > highHz {
			coeff[i] = 0
		}
	}
	out := fft.Sequence(nil, coeff)
	floats.Scale(1/float64(n), out)
	return out
}

// PeakPowerShare returns the fraction of the spectral power of x between
// lowHz and highHz that lies within halfWidth Hz of the strongest in-band
// frequency. A clean pulse scores near 1; broadband noise scores low. It is
// 0 when the band carries no power.
func PeakPowerShare(x []float64, fs, lowHz, highHz, halfWidth float64) float64 {
	n := len(x)
	if n == 0 {
		return 0
	}
	fft := fourier.NewFFT(n)
	coeff := fft.Coefficients(nil, x)

	var freqs, power []float64
	peak := -1
	for i, c := range coeff {
		f := fft.Freq(i) * fs
		if f < lowHz || f > highHz {
			continue
		}
		p := real(c)*real(c) + imag(c)*imag(c)
		freqs = append(freqs, f)
		power = append(power, p)
		if peak < 0 || p > power[peak] {
			peak = len(power) - 1
		}
	}
	total := floats.Sum(power)
	if peak < 0 || total == 0 {
		return 0
	}
	var near float64
	for i, f := range freqs {
		if math.Abs(f-freqs[peak]) <= halfWidth {
			near += power[i]
		}
	}
	return near / total
}
