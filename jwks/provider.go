package jwks

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mynextid/zklogin-prover/models"
)

// Provider describes an OAuth issuer whose signing keys are trusted
type Provider struct {
	Name   string `yaml:"name" json:"name"`
	Issuer string `yaml:"issuer" json:"issuer"`
	// MatchPrefix accepts any iss starting with Issuer, which must then end in "/".
	// Used for multi-tenant issuers.
	MatchPrefix  bool   `yaml:"match_prefix" json:"match_prefix"`
	JWKSURI      string `yaml:"jwks_uri" json:"jwks_uri"`
	DiscoveryURL string `yaml:"discovery_url" json:"discovery_url"`
}

// DefaultProviders are the issuers supported out of the box
var DefaultProviders = []Provider{
	{
		Name:    "google",
		Issuer:  "https://accounts.google.com",
		JWKSURI: "https://www.googleapis.com/oauth2/v3/certs",
	},
	{
		Name:    "google",
		Issuer:  "accounts.google.com",
		JWKSURI: "https://www.googleapis.com/oauth2/v3/certs",
	},
	{
		Name:    "facebook",
		Issuer:  "https://www.facebook.com",
		JWKSURI: "https://www.facebook.com/.well-known/oauth/openid/jwks/",
	},
	{
		Name:    "twitch",
		Issuer:  "https://id.twitch.tv/oauth2",
		JWKSURI: "https://id.twitch.tv/oauth2/keys",
	},
	{
		Name:    "apple",
		Issuer:  "https://appleid.apple.com",
		JWKSURI: "https://appleid.apple.com/auth/keys",
	},
	{
		Name:        "microsoft",
		Issuer:      "https://login.microsoftonline.com/",
		MatchPrefix: true,
		JWKSURI:     "https://login.microsoftonline.com/common/discovery/v2.0/keys",
	},
}

// Providers is an ordered set of provider configurations
type Providers []Provider

// Validate checks that every provider is usable
func (ps Providers) Validate() error {
	if len(ps) == 0 {
		return fmt.Errorf("no providers configured")
	}
	for i, p := range ps {
		if p.Name == "" || p.Issuer == "" {
			return fmt.Errorf("provider %d: name and issuer are required", i)
		}
		if p.JWKSURI == "" && p.DiscoveryURL == "" {
			return fmt.Errorf("provider %s: jwks_uri or discovery_url is required", p.Name)
		}
		if p.MatchPrefix && !strings.HasSuffix(p.Issuer, "/") {
			return fmt.Errorf("provider %s: prefix issuer must end with '/'", p.Name)
		}
	}
	return nil
}

// Lookup maps an iss claim to its provider. Exact matches win over prefixes.
func (ps Providers) Lookup(issuer string) (Provider, error) {
	for _, p := range ps {
		if !p.MatchPrefix && p.Issuer == issuer {
			return p, nil
		}
	}
	for _, p := range ps {
		if p.MatchPrefix && strings.HasPrefix(issuer, p.Issuer) && len(issuer) > len(p.Issuer) {
			return p, nil
		}
	}
	return Provider{}, fmt.Errorf("%w: %q", models.ErrUnsupportedIssuer, issuer)
}

type providersFile struct {
	Providers Providers `yaml:"providers"`
}

// LoadProviders reads a YAML providers file
func LoadProviders(path string) (Providers, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read providers file: %w", err)
	}

	var f providersFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse providers file: %w", err)
	}
	if err := f.Providers.Validate(); err != nil {
		return nil, fmt.Errorf("invalid providers file: %w", err)
	}
	return f.Providers, nil
}
