package rule

import (
	"net"

	"github.com/oschwald/geoip2-golang"
)

// GeoIPDatabase wraps a MaxMind GeoIP2 country database, grounded on the
// teacher's rules.Filter.GeoIP lookup (rules/geoip.go), generalized into
// the CountryLookup function the Set matcher consumes.
type GeoIPDatabase struct {
	reader *geoip2.Reader
}

// OpenGeoIPDatabase opens a GeoIP2 country (or city) database file.
func OpenGeoIPDatabase(path string) (*GeoIPDatabase, error) {
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, err
	}
	return &GeoIPDatabase{reader: reader}, nil
}

// Close releases the underlying mmap'd database file.
func (d *GeoIPDatabase) Close() error {
	return d.reader.Close()
}

// Lookup returns the ISO 3166-1 alpha-2 country code for ip.
func (d *GeoIPDatabase) Lookup(ip net.IP) (string, bool) {
	record, err := d.reader.Country(ip)
	if err != nil || record.Country.IsoCode == "" {
		return "", false
	}
	return record.Country.IsoCode, true
}

// AsCountryLookup adapts d to the CountryLookup function type. A nil
// receiver yields a nil CountryLookup, so "no GeoIP database configured"
// composes cleanly with NewSet/Decode.
func (d *GeoIPDatabase) AsCountryLookup() CountryLookup {
	if d == nil {
		return nil
	}
	return d.Lookup
}
