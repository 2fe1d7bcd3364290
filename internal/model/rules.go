package model

// Transition probabilities. q arguments are von Neumann neighbour fractions
// in [0, 1]; pGrass is the grass cover of the whole grid.

// EmptyToGrass is the probability that an empty cell is colonised by grass.
func (p Params) EmptyToGrass(qGrass, pGrass float64) float64 {
	return p.BG*qGrass + p.Theta*pGrass
}

// GrassToEmpty is the probability that a grass cell dies.
func (p Params) GrassToEmpty() float64 {
	return p.DG
}

// EmptyToShrub is the probability that an empty cell is colonised by shrubs.
func (p Params) EmptyToShrub(qShrub float64) float64 {
	return ((1-qShrub)*p.B1 + p.S1) * qShrub
}

// GrassToShrub is the probability that a grass cell is invaded by shrubs
// under grazing pressure h.
func (p Params) GrassToShrub(qShrub, h float64) float64 {
	return ((1-qShrub)*p.B2*(1-h) + p.S2) * qShrub
}

// ShrubToEmpty is the probability that a shrub cell dies.
func (p Params) ShrubToEmpty(qShrub float64) float64 {
	return p.DS + p.C*qShrub
}
