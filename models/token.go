package models

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

// Token wraps a JWT used to authenticate a replication client against the
// sync endpoint.
//
// It embeds [jwt.Token] for low-level token operations (signing, parsing)
// and [jwt.RegisteredClaims] for standard claim access (subject, expiry).
//
// SignedString holds the compact serialized form of the token
// (header.payload.signature) ready to be sent in the Authorization header
// of the websocket upgrade request.
//
// ClientID is a cached copy of the "sub" (subject) claim: the stable ID of
// the replicating client instance, which the sync endpoint attaches to the
// session's log entries.
type Token struct {
	*jwt.Token `json:"-"`

	jwt.RegisteredClaims

	SignedString string `json:"-"`

	ClientID string `json:"-"`
}

// GetClientID extracts the client identifier from the token's "sub"
// (subject) claim. Returns an error if the claim is missing or empty.
func (t *Token) GetClientID() (string, error) {
	clientID, err := t.GetSubject()
	if err != nil {
		return "", err
	}
	if clientID == "" {
		return "", errors.New("empty subject claim")
	}
	return clientID, nil
}

// String returns the compact JWS serialization of the token.
// It implements the [fmt.Stringer] interface.
func (t *Token) String() string {
	return t.SignedString
}
