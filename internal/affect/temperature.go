package affect

// TemperatureBounds is the sampling temperature range arousal maps onto.
type TemperatureBounds struct {
	Min float64
	Max float64
}

// DefaultTemperature keeps calm replies focused and agitated ones loose.
var DefaultTemperature = TemperatureBounds{Min: 0.2, Max: 0.9}

// Remap linearly maps x from [inLow,inHigh] to [outLow,outHigh], clamping
// at both ends. A degenerate input range yields outLow.
func Remap(x, inLow, inHigh, outLow, outHigh float64) float64 {
	if inHigh == inLow {
		return outLow
	}
	t := (x - inLow) / (inHigh - inLow)
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	return outLow + t*(outHigh-outLow)
}

// Temperature maps the arousal of v to a sampling temperature.
func (r Range) Temperature(v VAD, b TemperatureBounds) float64 {
	return Remap(v.Arousal, r.Low, r.High, b.Min, b.Max)
}
