package community

var claremont = []Name{
	{s: "Pomona"}, {s: "Harvey Mudd"}, {s: "Scripps"}, {s: "Pitzer"}, {s: "CMC"}, {s: "5C"},
}

// legacyColleges predates university detection and is keyed by the exact
// college name stored on the user.
var legacyColleges = map[string][]Name{
	"Pomona College":            claremont,
	"Harvey Mudd College":       claremont,
	"Scripps College":           claremont,
	"Pitzer College":            claremont,
	"Claremont McKenna College": claremont,
	"Carnegie Mellon University": {
		{s: "CMU"}, {s: "University Of Pittsburgh"}, {s: "Duquesne University"}, {s: "Pittsburgh Area"},
	},
}

// Legacy returns the static community list for college, or [OpenToAll] when
// the college is not in the table.
func Legacy(college string) []Name {
	if list, ok := legacyColleges[college]; ok {
		out := make([]Name, len(list))
		copy(out, list)
		return out
	}
	return []Name{OpenToAll}
}
