package models

import "time"

// refreshFraction is the share of a token's lifetime after which a proactive
// refresh is due, ahead of hard expiry.
const refreshFraction = 0.75

// TokenState holds the access/refresh token pair issued by the catalog API.
// It is replaced wholesale on every refresh or re-login and persisted keyed
// by account email.
type TokenState struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	TokenType    string    `json:"tokenType"`
	ExpiresIn    int       `json:"expiresIn"` // seconds
	IssuedAt     time.Time `json:"issuedAt"`
	Scope        string    `json:"scope"`
	AccountID    string    `json:"accountId"`
	ProfileID    string    `json:"profileId,omitempty"`
}

// IsZero returns true if no token has ever been issued.
func (t TokenState) IsZero() bool {
	return t.AccessToken == ""
}

// ExpiresAt returns the instant the access token stops being valid.
func (t TokenState) ExpiresAt() time.Time {
	return t.IssuedAt.Add(time.Duration(t.ExpiresIn) * time.Second)
}

// IsAuthenticated reports whether the access token is valid at the given time.
func (t TokenState) IsAuthenticated(now time.Time) bool {
	if t.IsZero() {
		return false
	}
	return !now.Before(t.IssuedAt) && now.Before(t.ExpiresAt())
}

// NeedsRefresh reports whether more than 75% of the token lifetime has
// elapsed at the given time. Independent of IsAuthenticated: an expired
// token also needs a refresh.
func (t TokenState) NeedsRefresh(now time.Time) bool {
	if t.IsZero() {
		return true
	}
	due := t.IssuedAt.Add(time.Duration(float64(t.ExpiresIn) * refreshFraction * float64(time.Second)))
	return now.After(due)
}

// CmsCredential is the signed policy/signature/key-pair tuple scoping access
// to content-delivery endpoints. Distinct from the bearer token; attached as
// query parameters to CDN-scoped requests.
type CmsCredential struct {
	Bucket    string    `json:"bucket"`
	Policy    string    `json:"policy"`
	Signature string    `json:"signature"`
	KeyPairID string    `json:"key_pair_id"`
	Expires   time.Time `json:"expires,omitempty"`
}

// IsZero returns true if no CMS credential has been fetched yet.
func (c CmsCredential) IsZero() bool {
	return c.Signature == ""
}

// DeviceIdentity identifies this install to the catalog API. The UUID is
// created once and persisted indefinitely.
type DeviceIdentity struct {
	UUID string `json:"uuid"`
	Type string `json:"type"`
	Name string `json:"name"`
}
