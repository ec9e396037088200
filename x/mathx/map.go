package mathx

// Map rescales x from [inMin,inMax] to [outMin,outMax], clamping x into
// the input range first. A degenerate input range maps to outMin.
func Map(x, inMin, inMax, outMin, outMax int) int {
	if inMax == inMin {
		return outMin
	}
	x = Clamp(x, inMin, inMax)
	return outMin + (x-inMin)*(outMax-outMin)/(inMax-inMin)
}
