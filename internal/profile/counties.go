package profile

import "strings"

// County is a selectable operating county.
type County struct {
	Name  string `json:"name"`
	State string `json:"state"`
}

var newJerseyCounties = []string{
	"Atlantic", "Bergen", "Burlington", "Camden", "Cape May", "Cumberland", "Essex",
	"Gloucester", "Hudson", "Hunterdon", "Mercer", "Middlesex", "Monmouth", "Morris",
	"Ocean", "Passaic", "Salem", "Somerset", "Sussex", "Union", "Warren",
}

var newYorkCounties = []string{
	"Albany", "Allegany", "Bronx", "Broome", "Cattaraugus", "Cayuga", "Chautauqua",
	"Chemung", "Chenango", "Clinton", "Columbia", "Cortland", "Delaware", "Dutchess",
	"Erie", "Essex", "Franklin", "Fulton", "Genesee", "Greene", "Hamilton", "Herkimer",
	"Jefferson", "Kings", "Lewis", "Livingston", "Madison", "Monroe", "Montgomery",
	"Nassau", "New York", "Niagara", "Oneida", "Onondaga", "Ontario", "Orange",
	"Orleans", "Oswego", "Otsego", "Putnam", "Queens", "Rensselaer", "Richmond",
	"Rockland", "Saratoga", "Schenectady", "Schoharie", "Schuyler", "Seneca",
	"St. Lawrence", "Steuben", "Suffolk", "Sullivan", "Tioga", "Tompkins", "Ulster",
	"Warren", "Washington", "Wayne", "Westchester", "Wyoming", "Yates",
}

// Counties lists the New Jersey counties followed by the New York counties.
func Counties() []County {
	out := make([]County, 0, len(newJerseyCounties)+len(newYorkCounties))
	for _, c := range newJerseyCounties {
		out = append(out, County{Name: c, State: "NJ"})
	}
	for _, c := range newYorkCounties {
		out = append(out, County{Name: c, State: "NY"})
	}
	return out
}

// NormalizeCounty trims whitespace and a trailing " County" so "Essex County"
// and "Essex" are the same value.
func NormalizeCounty(county string) string {
	c := strings.TrimSpace(county)
	if len(c) > len(" County") && strings.EqualFold(c[len(c)-len(" County"):], " County") {
		c = strings.TrimSpace(c[:len(c)-len(" County")])
	}
	return c
}

// IsKnownCounty reports whether county (normalized) is in either state list.
func IsKnownCounty(county string) bool {
	c := NormalizeCounty(county)
	for _, known := range Counties() {
		if strings.EqualFold(known.Name, c) {
			return true
		}
	}
	return false
}
