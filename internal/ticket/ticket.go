// Package ticket mints the scannable credential attached to confirmed bookings.
package ticket

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	qrcode "github.com/skip2/go-qrcode"
)

var ErrInvalidTicket = errors.New("invalid ticket")

type Claims struct {
	BookingID string
	IssuedAt  int64
}

type Issuer struct {
	secret []byte
	qrSize int
}

func NewIssuer(secret string, qrSize int) *Issuer {
	return &Issuer{secret: []byte(secret), qrSize: qrSize}
}

// Issue signs an HS256 token whose subject is the booking id. The output
// is deterministic in bookingID and issuedAt, so a ticket can be
// regenerated from the booking at any time.
func (i *Issuer) Issue(bookingID string, issuedAt time.Time) (string, error) {
	if bookingID == "" {
		return "", errors.New("booking id is required")
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:  bookingID,
		IssuedAt: jwt.NewNumericDate(issuedAt),
	})
	signed, err := tok.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign ticket: %w", err)
	}
	return signed, nil
}

func (i *Issuer) Verify(payload string) (*Claims, error) {
	var rc jwt.RegisteredClaims
	tok, err := jwt.ParseWithClaims(payload, &rc, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return i.secret, nil
	})
	if err != nil || !tok.Valid || rc.Subject == "" {
		return nil, ErrInvalidTicket
	}
	claims := &Claims{BookingID: rc.Subject}
	if rc.IssuedAt != nil {
		claims.IssuedAt = rc.IssuedAt.Unix()
	}
	return claims, nil
}

// QRCode renders the payload as a PNG.
func (i *Issuer) QRCode(payload string) ([]byte, error) {
	png, err := qrcode.Encode(payload, qrcode.Medium, i.qrSize)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}
	return png, nil
}
