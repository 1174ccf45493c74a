package auth

import (
	"github.com/angelmondragon/storefront-checkout/pkg/enums"
	"github.com/golang-jwt/jwt/v5"
)

// OperatorTokenPayload captures the data available when minting a JWT.
type OperatorTokenPayload struct {
	Subject string
	Role    enums.OperatorRole
	JTI     string
}

// OperatorClaims represents the typed JWT presented to the admin API.
type OperatorClaims struct {
	Role enums.OperatorRole `json:"role"`
	jwt.RegisteredClaims
}
