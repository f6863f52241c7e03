package risk

// Grade is the letter grade a composite score maps to, A+ down to F.
type Grade string

const (
	GradeAPlus  Grade = "A+"
	GradeA      Grade = "A"
	GradeAMinus Grade = "A-"
	GradeBPlus  Grade = "B+"
	GradeB      Grade = "B"
	GradeBMinus Grade = "B-"
	GradeCPlus  Grade = "C+"
	GradeC      Grade = "C"
	GradeCMinus Grade = "C-"
	GradeD      Grade = "D"
	GradeF      Grade = "F"
)

// Grade bands with inclusive lower bounds, checked top down.
var gradeBands = []struct {
	min   float64
	grade Grade
}{
	{93, GradeAPlus},
	{90, GradeA},
	{87, GradeAMinus},
	{84, GradeBPlus},
	{80, GradeB},
	{77, GradeBMinus},
	{74, GradeCPlus},
	{70, GradeC},
	{65, GradeCMinus},
	{60, GradeD},
}

// GradeFor maps a composite score to its letter grade.
func GradeFor(score float64) Grade {
	for _, band := range gradeBands {
		if score >= band.min {
			return band.grade
		}
	}
	return GradeF
}

// Composite is the arithmetic mean of the four component scores. Equal
// weighting: no component dominates by default.
func Composite(c ComponentScores) float64 {
	return clampScore((c.Oracle + c.Utilization + c.Headroom + c.Coverage) / 4)
}

// gradeWithOverride applies the bad-debt rule on top of the normal grade
// mapping: realized bad debt above the floor forces F while the composite
// value itself is still reported.
func (c Config) gradeWithOverride(composite, badDebtUSD float64) Grade {
	if badDebtUSD > c.BadDebtFloorUSD {
		return GradeF
	}
	return GradeFor(composite)
}
