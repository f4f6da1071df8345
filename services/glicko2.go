package services

import "math"

// Opponent is the composite opposing side a player is rated against. For
// doubles this is the average rating/deviation of the two opponents.
type Opponent struct {
	Rating    float64
	Deviation float64
}

// SkillModel maps (current state, opponent, score) to new rating state.
// Score is 1 for a win, 0 for a loss, 0.5 for a draw. The engine owns
// everything around the numeric model (ordering, idempotency, history), so
// the model itself stays swappable.
type SkillModel interface {
	Update(rating, deviation, volatility float64, opp Opponent, score float64) (newRating, newDeviation, newVolatility float64)
}

// Glicko-2 constants from the Glickman paper; ratings live on the public
// 1500 scale and are converted to mu/phi internally.
const (
	glickoScale = 173.7178
	glickoQ     = math.Ln10 / 400.0
	piSquared   = math.Pi * math.Pi
)

type Glicko2Config struct {
	// Tau constrains volatility changes; 0.5 is the usual choice.
	Tau float64
	// DeviationFloor stops RD from shrinking to the point where ratings
	// freeze entirely.
	DeviationFloor float64
}

type glicko2Model struct {
	tau   float64
	floor float64
}

func NewGlicko2Model(cfg Glicko2Config) SkillModel {
	tau := cfg.Tau
	if tau <= 0 {
		tau = 0.5
	}
	return &glicko2Model{tau: tau, floor: cfg.DeviationFloor}
}

func toMuPhi(r, rd float64) (float64, float64) {
	return (r - 1500.0) / glickoScale, rd / glickoScale
}

func fromMuPhi(mu, phi float64) (float64, float64) {
	return mu*glickoScale + 1500.0, phi * glickoScale
}

func gFactor(phi float64) float64 {
	return 1.0 / math.Sqrt(1.0+3.0*glickoQ*glickoQ*phi*phi/piSquared)
}

func expectedScore(mu, muOpp, phiOpp float64) float64 {
	return 1.0 / (1.0 + math.Exp(-gFactor(phiOpp)*(mu-muOpp)))
}

func (m *glicko2Model) Update(rating, deviation, volatility float64, opp Opponent, score float64) (float64, float64, float64) {
	mu, phi := toMuPhi(rating, deviation)
	muOpp, phiOpp := toMuPhi(opp.Rating, opp.Deviation)

	gOpp := gFactor(phiOpp)
	e := expectedScore(mu, muOpp, phiOpp)

	v := 1.0 / (glickoQ * glickoQ * gOpp * gOpp * e * (1.0 - e))
	delta := v * glickoQ * gOpp * (score - e)

	newVol := m.solveVolatility(phi, v, delta, volatility)

	phiStar := math.Sqrt(phi*phi + newVol*newVol)
	phiNew := 1.0 / math.Sqrt(1.0/(phiStar*phiStar)+1.0/v)
	muNew := mu + (phiNew*phiNew)*glickoQ*gOpp*(score-e)

	newRating, newDeviation := fromMuPhi(muNew, phiNew)
	if newDeviation < m.floor {
		newDeviation = m.floor
	}
	return newRating, newDeviation, newVol
}

// solveVolatility finds sigma' with the Illinois-style iteration from the
// Glicko-2 paper.
func (m *glicko2Model) solveVolatility(phi, v, delta, volatility float64) float64 {
	a := math.Log(volatility * volatility)
	f := func(x float64) float64 {
		ex := math.Exp(x)
		num := ex * (delta*delta - phi*phi - v - ex)
		den := 2.0 * (phi*phi + v + ex) * (phi*phi + v + ex)
		return (num / den) - (x-a)/(m.tau*m.tau)
	}

	bigA := a
	var bigB float64
	if delta*delta > phi*phi+v {
		bigB = math.Log(delta*delta - phi*phi - v)
	} else {
		k := 1.0
		for f(a-k) < 0 && k < 1e6 {
			k *= 2.0
		}
		bigB = a - k
	}

	fA := f(bigA)
	fB := f(bigB)
	for i := 0; i < 60 && math.Abs(bigB-bigA) > 1e-6; i++ {
		c := bigA + (bigA-bigB)*fA/(fB-fA)
		fC := f(c)
		if math.IsNaN(fC) || math.IsInf(fC, 0) {
			break
		}
		if fC*fB < 0 {
			bigA = bigB
			fA = fB
		} else {
			fA = fA / 2.0
		}
		bigB = c
		fB = fC
	}
	return math.Exp(bigB / 2.0)
}
