package university

var legacyDomains = map[string]string{
	"pomona.edu":         "Pomona College",
	"hmc.edu":            "Harvey Mudd College",
	"scrippscollege.edu": "Scripps College",
	"pitzer.edu":         "Pitzer College",
	"cmc.edu":            "Claremont McKenna College",
	"andrew.cmu.edu":     "Carnegie Mellon University",
}

// LegacyCollege looks domain up in the static table of supported colleges.
func LegacyCollege(domain string) (string, bool) {
	c, ok := legacyDomains[domain]
	return c, ok
}
