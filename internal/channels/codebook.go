package channels

import (
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// Codebook encodes categorical string labels as integer codes.
type Codebook map[string]int

// Eye-movement types as classified by the tracker's event detector.
var EyeMovementTypes = Codebook{
	"FIXA":    0,
	"PURS":    1,
	"SACC":    2,
	"ISAC":    3,
	"MISSING": 4,
	"HPSO":    5,
	"IHPS":    6,
	"ILPS":    7,
	"LPSO":    8,
}

// Scenarios of the driving study.
var Scenarios = Codebook{"highway": 0, "rural": 1, "city": 2}

// Codes of the eye-movement types that carry event metrics.
const (
	CodeFixation = 0
	CodeSaccade  = 2
)

// Encode returns the code of label. Numeric labels are accepted verbatim.
func (c Codebook) Encode(label string) (int, error) {
	label = strings.TrimSpace(label)
	if code, ok := c[label]; ok {
		return code, nil
	}
	if code, err := strconv.Atoi(label); err == nil {
		return code, nil
	}
	return 0, fmt.Errorf("unknown category %q", label)
}

// Label returns the label of code, or the decimal code when unknown.
func (c Codebook) Label(code int) string {
	for k, v := range c {
		if v == code {
			return k
		}
	}
	return strconv.Itoa(code)
}

// Zone is a named area of interest hit by the gaze ray.
type Zone struct {
	ID   int
	Name string
}

type zonesXML struct {
	Zones []struct {
		ID   string `xml:"id,attr"`
		Name string `xml:"name,attr"`
	} `xml:",any"`
}

// ParseZones reads a target-zone definition of the form
//
//	<zones><zone id="1" name="road"/>...</zones>
//
// and returns the zones ordered by id.
func ParseZones(r io.Reader) ([]Zone, error) {
	var doc zonesXML
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode target zones: %w", err)
	}
	m := make(map[int]string, len(doc.Zones))
	for _, z := range doc.Zones {
		id, err := strconv.Atoi(strings.TrimSpace(z.ID))
		if err != nil {
			return nil, fmt.Errorf("target zone id %q: %w", z.ID, err)
		}
		m[id] = z.Name
	}
	return ZonesFromMap(m), nil
}

// ZonesFromMap converts an id->name map into zones ordered by id.
func ZonesFromMap(m map[int]string) []Zone {
	zones := make([]Zone, 0, len(m))
	for id, name := range m {
		zones = append(zones, Zone{ID: id, Name: name})
	}
	sort.Slice(zones, func(i, j int) bool { return zones[i].ID < zones[j].ID })
	return zones
}
