// ABOUTME: JWT sync tickets authorizing one session to subscribe to one document
// ABOUTME: Uses HS256 signing with a configurable secret and short expiry

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Ticket errors
var (
	ErrInvalidTicket = errors.New("invalid sync ticket")
	ErrExpiredTicket = errors.New("sync ticket expired")
)

// ticketAudience scopes tickets so they cannot be replayed as other tokens.
const ticketAudience = "larder-sync"

// DefaultTicketTTL is how long a sync ticket stays valid.
const DefaultTicketTTL = 5 * time.Minute

// ticketClaims binds a user's session to a document.
type ticketClaims struct {
	DocumentID string `json:"doc"`
	SessionID  string `json:"sid"`
	jwt.RegisteredClaims
}

// Ticket is what a verified sync ticket vouches for. Callers must still
// check that the session is live and the user may access the document.
type Ticket struct {
	UserID    string
	SessionID string
}

// TicketIssuer mints and verifies sync tickets.
type TicketIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTicketIssuer creates an issuer. A zero ttl uses DefaultTicketTTL.
func NewTicketIssuer(secret []byte, ttl time.Duration) *TicketIssuer {
	if ttl <= 0 {
		ttl = DefaultTicketTTL
	}
	return &TicketIssuer{secret: secret, ttl: ttl, now: time.Now}
}

// Issue creates a ticket letting the holder of sessionID subscribe to
// documentID as userID.
func (t *TicketIssuer) Issue(userID, sessionID, documentID string) (string, time.Time, error) {
	now := t.now()
	expiresAt := now.Add(t.ttl)
	claims := ticketClaims{
		DocumentID: documentID,
		SessionID:  sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Audience:  jwt.ClaimStrings{ticketAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing ticket: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify checks a ticket for documentID and returns who it was issued to.
func (t *TicketIssuer) Verify(ticket, documentID string) (*Ticket, error) {
	var claims ticketClaims
	token, err := jwt.ParseWithClaims(ticket, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return t.secret, nil
	},
		jwt.WithAudience(ticketAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredTicket
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidTicket, err)
	}
	if !token.Valid {
		return nil, ErrInvalidTicket
	}
	if claims.Subject == "" || claims.SessionID == "" || claims.DocumentID != documentID {
		return nil, ErrInvalidTicket
	}
	return &Ticket{UserID: claims.Subject, SessionID: claims.SessionID}, nil
}
