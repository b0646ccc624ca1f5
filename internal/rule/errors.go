package rule

import "errors"

// ErrEmptyRuleSet is returned when a rule file contains no entries.
var ErrEmptyRuleSet = errors.New("rule: rule set must not be empty")

// ErrMissingDefault is returned when the first entry of a rule set is not
// the Any/Any/Any default verdict.
var ErrMissingDefault = errors.New("rule: first entry must match address=any, port=any, protocol=any")

// ErrAmbiguousDomainPattern is returned when a domain matcher specifies both
// a regex pattern and a wildcard; the source format leaves this
// unspecified, so Gatekeeper rejects it at load time (see open question in
// spec).
var ErrAmbiguousDomainPattern = errors.New("rule: domain matcher must not set both pattern and wildcard")

// ErrGeoCountryWithoutDatabase is returned when a rule references a geoip
// country code but no GeoIP database was configured.
var ErrGeoCountryWithoutDatabase = errors.New("rule: geo-country matcher requires a configured geoip database")

// ErrInvalidCIDR is returned when an IP matcher's CIDR string fails to
// parse.
var ErrInvalidCIDR = errors.New("rule: invalid CIDR")

// ErrInvalidRegex is returned when a domain matcher's regex fails to
// compile.
var ErrInvalidRegex = errors.New("rule: invalid domain regex")
