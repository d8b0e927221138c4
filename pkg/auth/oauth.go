package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2/google"

	geminierrors "github.com/digitallysavvy/go-gemini/pkg/gemini/errors"
)

// CloudPlatformScope is the OAuth scope requested for Vertex access
const CloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// serviceAccountKey is the subset of a service-account JSON key the
// signed-JWT flow needs
type serviceAccountKey struct {
	ClientEmail string `json:"client_email"`
	PrivateKey  string `json:"private_key"`
	TokenURI    string `json:"token_uri"`
}

// ServiceAccountSource exchanges a locally signed RS256 JWT for an access
// token at the OAuth token endpoint
type ServiceAccountSource struct {
	name string
	key  serviceAccountKey

	// HTTPClient used for the token exchange; http.DefaultClient when nil
	HTTPClient *http.Client

	// TokenURL overrides the key's token_uri (tests)
	TokenURL string

	// now is replaceable in tests
	now func() time.Time
}

// NewServiceAccountSource parses a service-account JSON key blob
func NewServiceAccountSource(jsonKey []byte) (*ServiceAccountSource, error) {
	var key serviceAccountKey
	if err := json.Unmarshal(jsonKey, &key); err != nil {
		return nil, geminierrors.NewAuthError("json_blob", "malformed service account key", err)
	}
	if key.ClientEmail == "" || key.PrivateKey == "" {
		return nil, geminierrors.NewAuthError("json_blob", "service account key missing client_email or private_key", nil)
	}
	if key.TokenURI == "" {
		key.TokenURI = "https://oauth2.googleapis.com/token"
	}
	return &ServiceAccountSource{name: "json_blob", key: key, now: time.Now}, nil
}

// NewKeyFileSource reads a service-account JSON key from disk
func NewKeyFileSource(path string) (*ServiceAccountSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, geminierrors.NewAuthError("key_file", fmt.Sprintf("cannot read key file %s", path), err)
	}
	src, err := NewServiceAccountSource(data)
	if err != nil {
		return nil, err
	}
	src.name = "key_file"
	return src, nil
}

// Name implements TokenSource
func (s *ServiceAccountSource) Name() string { return s.name }

// Fetch implements TokenSource: sign the claim set and exchange it
func (s *ServiceAccountSource) Fetch(ctx context.Context) (Token, error) {
	signed, err := s.signJWT()
	if err != nil {
		return Token{}, geminierrors.NewAuthError(s.name, "JWT signing failed", err)
	}

	tokenURL := s.TokenURL
	if tokenURL == "" {
		tokenURL = s.key.TokenURI
	}

	form := url.Values{
		"grant_type": {"urn:ietf:params:oauth:grant-type:jwt-bearer"},
		"assertion":  {signed},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return Token{}, geminierrors.NewAuthError(s.name, "token request build failed", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	client := s.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return Token{}, geminierrors.NewAuthError(s.name, "token exchange failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Token{}, geminierrors.NewAuthError(s.name, "token response read failed", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Token{}, geminierrors.NewAuthError(s.name,
			fmt.Sprintf("token endpoint returned %d: %s", resp.StatusCode, string(body)), nil)
	}

	var wire struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &wire); err != nil {
		return Token{}, geminierrors.NewAuthError(s.name, "malformed token response", err)
	}
	if wire.AccessToken == "" {
		return Token{}, geminierrors.NewAuthError(s.name, "token response missing access_token", nil)
	}

	expiresIn := wire.ExpiresIn
	if expiresIn == 0 {
		expiresIn = 3600
	}
	return Token{
		Value:     wire.AccessToken,
		ExpiresAt: s.now().Add(time.Duration(expiresIn) * time.Second),
	}, nil
}

// signJWT builds and signs the RS256 assertion with exp = iat + 1h
func (s *ServiceAccountSource) signJWT() (string, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(s.key.PrivateKey))
	if err != nil {
		return "", fmt.Errorf("parsing private key: %w", err)
	}

	aud := s.TokenURL
	if aud == "" {
		aud = s.key.TokenURI
	}
	now := s.now()
	claims := jwt.MapClaims{
		"iss":   s.key.ClientEmail,
		"scope": CloudPlatformScope,
		"aud":   aud,
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
}

// ADCSource serves tokens from Application Default Credentials
type ADCSource struct{}

// Name implements TokenSource
func (ADCSource) Name() string { return "adc" }

// Fetch implements TokenSource
func (ADCSource) Fetch(ctx context.Context) (Token, error) {
	creds, err := google.FindDefaultCredentials(ctx, CloudPlatformScope)
	if err != nil {
		return Token{}, geminierrors.NewAuthError("adc", "application default credentials not found", err)
	}
	tok, err := creds.TokenSource.Token()
	if err != nil {
		return Token{}, geminierrors.NewAuthError("adc", "default credential token fetch failed", err)
	}
	return Token{Value: tok.AccessToken, ExpiresAt: tok.Expiry}, nil
}

// MetadataSource serves tokens from the GCE metadata server
type MetadataSource struct{}

// Name implements TokenSource
func (MetadataSource) Name() string { return "metadata_server" }

// Fetch implements TokenSource
func (MetadataSource) Fetch(ctx context.Context) (Token, error) {
	ts := google.ComputeTokenSource("", CloudPlatformScope)
	tok, err := ts.Token()
	if err != nil {
		return Token{}, geminierrors.NewAuthError("metadata_server", "metadata server token fetch failed", err)
	}
	return Token{Value: tok.AccessToken, ExpiresAt: tok.Expiry}, nil
}

// DefaultChain builds the canonical acquisition chain from explicit
// configuration: key file, JSON blob, ADC, metadata server. Sources whose
// configuration is absent are skipped.
func DefaultChain(keyFilePath string, jsonBlob []byte) (*ChainSource, error) {
	var sources []TokenSource
	if keyFilePath != "" {
		src, err := NewKeyFileSource(keyFilePath)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	if len(jsonBlob) > 0 {
		src, err := NewServiceAccountSource(jsonBlob)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	sources = append(sources, ADCSource{}, MetadataSource{})
	return NewChainSource(sources...), nil
}
