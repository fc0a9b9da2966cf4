package report

// Derived-metric helpers. Zero denominators yield 0 rather than
// NaN/Inf so the sentinel survives JSON encoding and persistence.

// Div returns num/den, or 0 when den is 0.
func Div(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}

// Percent returns num/den as a percentage, or 0 when den is 0.
// E.g. click-through rate: Percent(clicks, impressions).
func Percent(num, den float64) float64 {
	return Div(num, den) * 100
}

// PerThousand returns the cost per thousand units, or 0 when den is 0.
// E.g. CPM: PerThousand(spend, impressions).
func PerThousand(num, den float64) float64 {
	return Div(num, den) * 1000
}
