package auth

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// LTFTAdminRole grants access to LTFT administration.
const LTFTAdminRole = "NHSE LTFT Admin"

var (
	ErrMissingToken    = errors.New("missing authorization token")
	ErrIncompleteToken = errors.New("token is missing required claims")
)

// Claims are the identity claims issued by the user pool. Signatures are
// verified by the API gateway before requests reach the service.
type Claims struct {
	TisID      string   `json:"custom:tisId,omitempty"`
	Email      string   `json:"email,omitempty"`
	GivenName  string   `json:"given_name,omitempty"`
	FamilyName string   `json:"family_name,omitempty"`
	Groups     []string `json:"cognito:groups,omitempty"`
	Roles      []string `json:"cognito:roles,omitempty"`
	jwt.RegisteredClaims
}

// Identity is the caller of a request.
type Identity struct {
	TraineeID  string
	Email      string
	GivenName  string
	FamilyName string
	Groups     []string
	Roles      []string
}

// Name is the caller's full name.
func (i *Identity) Name() string {
	return strings.TrimSpace(i.GivenName + " " + i.FamilyName)
}

func (i *Identity) HasRole(role string) bool {
	return slices.Contains(i.Roles, role)
}

// ParseToken decodes the claims of a token from an Authorization header
// value, with or without the Bearer prefix.
func ParseToken(header string) (*Claims, error) {
	token := strings.TrimSpace(header)
	if after, ok := strings.CutPrefix(token, "Bearer "); ok {
		token = strings.TrimSpace(after)
	}
	if token == "" {
		return nil, ErrMissingToken
	}

	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("decode token: %w", err)
	}
	return claims, nil
}

func identityFromClaims(claims *Claims) *Identity {
	return &Identity{
		TraineeID:  claims.TisID,
		Email:      claims.Email,
		GivenName:  claims.GivenName,
		FamilyName: claims.FamilyName,
		Groups:     claims.Groups,
		Roles:      claims.Roles,
	}
}

// TraineeIdentity returns the trainee described by the token.
func TraineeIdentity(header string) (*Identity, error) {
	claims, err := ParseToken(header)
	if err != nil {
		return nil, err
	}
	if claims.TisID == "" {
		return nil, fmt.Errorf("%w: custom:tisId", ErrIncompleteToken)
	}
	return identityFromClaims(claims), nil
}

// AdminIdentity returns the admin described by the token. Admins must belong
// to at least one group.
func AdminIdentity(header string) (*Identity, error) {
	claims, err := ParseToken(header)
	if err != nil {
		return nil, err
	}
	if claims.Email == "" {
		return nil, fmt.Errorf("%w: email", ErrIncompleteToken)
	}
	if len(claims.Groups) == 0 {
		return nil, fmt.Errorf("%w: cognito:groups", ErrIncompleteToken)
	}
	return identityFromClaims(claims), nil
}
