// Package crs parses coordinate reference system identifiers and carries the
// WKT needed for sidecar files such as a shapefile's .prj.
package crs

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrInvalid is returned for empty or malformed CRS identifiers.
var ErrInvalid = errors.New("crs: invalid identifier")

// CRS identifies a coordinate reference system.
type CRS struct {
	Code int    // EPSG code, 0 when unknown
	Name string // CRS name
	WKT  string // Well-Known Text representation
	Raw  string // identifier as given (PROJ strings, unknown WKT)
}

// Known EPSG codes the package can describe without an external registry.
const (
	WGS84       = 4326
	WebMercator = 3857
	NAD83       = 4269
	wkt4326     = `GEOGCS["WGS 84",DATUM["WGS_1984",SPHEROID["WGS 84",6378137,298.257223563,AUTHORITY["EPSG","7030"]],AUTHORITY["EPSG","6326"]],PRIMEM["Greenwich",0,AUTHORITY["EPSG","8901"]],UNIT["degree",0.0174532925199433,AUTHORITY["EPSG","9122"]],AUTHORITY["EPSG","4326"]]`
	wkt3857     = `PROJCS["WGS 84 / Pseudo-Mercator",GEOGCS["WGS 84",DATUM["WGS_1984",SPHEROID["WGS 84",6378137,298.257223563,AUTHORITY["EPSG","7030"]],AUTHORITY["EPSG","6326"]],PRIMEM["Greenwich",0,AUTHORITY["EPSG","8901"]],UNIT["degree",0.0174532925199433,AUTHORITY["EPSG","9122"]],AUTHORITY["EPSG","4326"]],PROJECTION["Mercator_1SP"],PARAMETER["central_meridian",0],PARAMETER["scale_factor",1],PARAMETER["false_easting",0],PARAMETER["false_northing",0],UNIT["metre",1,AUTHORITY["EPSG","9001"]],AXIS["Easting",EAST],AXIS["Northing",NORTH],EXTENSION["PROJ4","+proj=merc +a=6378137 +b=6378137 +lat_ts=0 +lon_0=0 +x_0=0 +y_0=0 +k=1 +units=m +nadgrids=@null +wktext +no_defs"],AUTHORITY["EPSG","3857"]]`
	wkt4269     = `GEOGCS["NAD83",DATUM["North_American_Datum_1983",SPHEROID["GRS 1980",6378137,298.257222101,AUTHORITY["EPSG","7019"]],AUTHORITY["EPSG","6269"]],PRIMEM["Greenwich",0,AUTHORITY["EPSG","8901"]],UNIT["degree",0.0174532925199433,AUTHORITY["EPSG","9122"]],AUTHORITY["EPSG","4269"]]`
)

type known struct {
	name string
	wkt  string
}

var registry = map[int]known{
	WGS84:       {"WGS 84", wkt4326},
	WebMercator: {"WGS 84 / Pseudo-Mercator", wkt3857},
	NAD83:       {"NAD83", wkt4269},
}

// aliases maps deprecated or vendor codes onto their EPSG equivalent.
var aliases = map[int]int{
	900913: WebMercator,
	3785:   WebMercator,
	102100: WebMercator,
	102113: WebMercator,
}

var (
	codePattern      = regexp.MustCompile(`(?i)^(?:\+init=)?(?:epsg|urn:ogc:def:crs:epsg:[0-9.]*):{0,2}(\d+)$`)
	authorityPattern = regexp.MustCompile(`AUTHORITY\[\s*"EPSG"\s*,\s*"?(\d+)"?\s*\]\s*\]\s*$`)
	wktNamePattern   = regexp.MustCompile(`^\s*(?:GEOGCS|PROJCS|GEOGCRS|PROJCRS|GEODCRS)\[\s*"([^"]*)"`)
)

// EPSG returns the CRS for an EPSG code.
func EPSG(code int) CRS {
	if c, ok := aliases[code]; ok {
		code = c
	}
	c := CRS{Code: code}
	if k, ok := registry[code]; ok {
		c.Name = k.name
		c.WKT = k.wkt
	}
	return c
}

// Parse parses a CRS identifier. Accepted forms are "EPSG:4326", "4326",
// "+init=epsg:4326", "urn:ogc:def:crs:EPSG::4326", WKT and PROJ strings.
func Parse(s string) (CRS, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return CRS{}, fmt.Errorf("%w: empty", ErrInvalid)
	}

	if n, err := strconv.Atoi(s); err == nil {
		if n <= 0 {
			return CRS{}, fmt.Errorf("%w: %q", ErrInvalid, s)
		}
		return EPSG(n), nil
	}

	if m := codePattern.FindStringSubmatch(s); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil || n <= 0 {
			return CRS{}, fmt.Errorf("%w: %q", ErrInvalid, s)
		}
		return EPSG(n), nil
	}

	if strings.HasPrefix(strings.ToLower(s), "epsg:") {
		return CRS{}, fmt.Errorf("%w: %q", ErrInvalid, s)
	}

	if wktNamePattern.MatchString(s) {
		return FromWKT(s)
	}

	if strings.HasPrefix(s, "+proj=") || strings.HasPrefix(s, "+init=") {
		return CRS{Raw: s}, nil
	}

	return CRS{}, fmt.Errorf("%w: %q", ErrInvalid, s)
}

// FromWKT builds a CRS from WKT such as the contents of a .prj file.
// The EPSG code is recovered from the outermost AUTHORITY clause or from
// well known names.
func FromWKT(wkt string) (CRS, error) {
	wkt = strings.TrimSpace(wkt)
	m := wktNamePattern.FindStringSubmatch(wkt)
	if m == nil {
		return CRS{}, fmt.Errorf("%w: not WKT", ErrInvalid)
	}

	c := CRS{Name: m[1], WKT: wkt}
	if a := authorityPattern.FindStringSubmatch(wkt); a != nil {
		if n, err := strconv.Atoi(a[1]); err == nil {
			c.Code = n
		}
	}
	if c.Code == 0 {
		c.Code = codeForName(c.Name)
	}
	if code, ok := aliases[c.Code]; ok {
		c.Code = code
	}
	return c, nil
}

func codeForName(name string) int {
	switch strings.ReplaceAll(strings.ToUpper(name), "_", " ") {
	case "WGS 84", "WGS84", "GCS WGS 1984":
		return WGS84
	case "WGS 84 / PSEUDO-MERCATOR", "WGS 1984 WEB MERCATOR AUXILIARY SPHERE", "WGS 1984 WEB MERCATOR":
		return WebMercator
	case "NAD83", "GCS NORTH AMERICAN 1983":
		return NAD83
	}
	return 0
}

// IsZero reports whether the CRS is unknown.
func (c CRS) IsZero() bool {
	return c.Code == 0 && c.WKT == "" && c.Raw == ""
}

// Equal reports whether both values identify the same CRS.
func (c CRS) Equal(o CRS) bool {
	if c.Code != 0 || o.Code != 0 {
		return c.Code == o.Code
	}
	if c.WKT != "" || o.WKT != "" {
		return c.WKT == o.WKT
	}
	return c.Raw == o.Raw
}

// String returns "EPSG:<code>" when the code is known, otherwise the raw
// identifier or WKT.
func (c CRS) String() string {
	switch {
	case c.Code > 0:
		return "EPSG:" + strconv.Itoa(c.Code)
	case c.Raw != "":
		return c.Raw
	default:
		return c.WKT
	}
}

// URN returns the OGC URN form used by the GeoJSON "crs" member.
func (c CRS) URN() string {
	if c.Code == 0 {
		return ""
	}
	return "urn:ogc:def:crs:EPSG::" + strconv.Itoa(c.Code)
}

// Identifier returns the text that Parse reads back into c: the URN when
// the code is known, otherwise the WKT or raw identifier.
func (c CRS) Identifier() string {
	switch {
	case c.Code > 0:
		return c.URN()
	case c.WKT != "":
		return c.WKT
	default:
		return c.Raw
	}
}

// PRJ returns the contents of a .prj sidecar. Codes without registry WKT
// get a stub carrying only the EPSG authority, which FromWKT reads back.
// A PROJ string is returned as is.
func (c CRS) PRJ() string {
	switch {
	case c.WKT != "":
		return c.WKT
	case c.Code > 0:
		if k, ok := registry[c.Code]; ok {
			return k.wkt
		}
		return fmt.Sprintf(`PROJCS["EPSG:%d",AUTHORITY["EPSG","%d"]]`, c.Code, c.Code)
	default:
		return c.Raw
	}
}
