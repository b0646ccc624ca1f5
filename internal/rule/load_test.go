package rule

import (
	"errors"
	"net"
	"testing"

	"github.com/gatekeeperd/gatekeeper/internal/socks5"
)

const exampleRules = `
- action: allow
  address: any
  port: any
  protocol: any
- action: deny
  address:
    domain:
      pattern: '\Aevil\.com\z'
  port: any
  protocol: tcp
- action: allow
  address:
    cidr: 10.0.0.0/8
  port: any
  protocol: any
- action: allow
  address:
    domain:
      wildcard: '*.example.com'
  port: 443
  protocol: tcp
`

func TestDecodeExampleRules(t *testing.T) {
	set, err := Decode([]byte(exampleRules), nil)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if set.Len() != 4 {
		t.Fatalf("got %d entries, want 4", set.Len())
	}

	cases := []struct {
		name string
		req  socks5.ConnectRequest
		want Verdict
	}{
		{"evil.com denied", connectTo(socks5.NewDomainAddress("evil.com"), 443), Deny},
		{"good.com allowed by default", connectTo(socks5.NewDomainAddress("good.com"), 80), Allow},
		{"private ip allowed", connectTo(socks5.NewIPAddress(net.ParseIP("10.2.3.4")), 22), Allow},
		{"wildcard subdomain allowed", connectTo(socks5.NewDomainAddress("api.example.com"), 443), Allow},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := set.Decide(tc.req); got != tc.want {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestDecodeRejectsMissingDefault(t *testing.T) {
	const badYAML = `
- action: deny
  address:
    cidr: 10.0.0.0/8
  port: any
  protocol: any
`
	if _, err := Decode([]byte(badYAML), nil); err != ErrMissingDefault {
		t.Fatalf("got %v, want ErrMissingDefault", err)
	}
}

func TestDecodeRejectsAmbiguousDomainPattern(t *testing.T) {
	const badYAML = `
- action: allow
  address: any
  port: any
  protocol: any
- action: deny
  address:
    domain:
      pattern: '\Aevil\.com\z'
      wildcard: '*.evil.com'
  port: any
  protocol: any
`
	if _, err := Decode([]byte(badYAML), nil); !errors.Is(err, ErrAmbiguousDomainPattern) {
		t.Fatalf("got %v, want ErrAmbiguousDomainPattern", err)
	}
}

func TestDecodeRejectsGeoCountryWithoutDatabase(t *testing.T) {
	const badYAML = `
- action: allow
  address: any
  port: any
  protocol: any
- action: deny
  address:
    geo_country: CN
  port: any
  protocol: any
`
	if _, err := Decode([]byte(badYAML), nil); !errors.Is(err, ErrGeoCountryWithoutDatabase) {
		t.Fatalf("got %v, want ErrGeoCountryWithoutDatabase", err)
	}
}

func TestRoundTripEncodeDecode(t *testing.T) {
	set, err := Decode([]byte(exampleRules), nil)
	if err != nil {
		t.Fatal(err)
	}
	encoded, err := Encode(set)
	if err != nil {
		t.Fatal(err)
	}
	reloaded, err := Decode(encoded, nil)
	if err != nil {
		t.Fatalf("re-decode: %v", err)
	}

	probes := []socks5.ConnectRequest{
		connectTo(socks5.NewDomainAddress("evil.com"), 443),
		connectTo(socks5.NewDomainAddress("good.com"), 80),
		connectTo(socks5.NewIPAddress(net.ParseIP("10.2.3.4")), 22),
		connectTo(socks5.NewDomainAddress("api.example.com"), 443),
	}
	for _, req := range probes {
		if got, want := reloaded.Decide(req), set.Decide(req); got != want {
			t.Fatalf("%s: round-tripped verdict %v != original %v", req, got, want)
		}
	}
}
