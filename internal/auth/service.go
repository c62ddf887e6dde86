package auth

import (
	"context"
	"errors"
	"time"

	"github.com/evangomez/FairFuel/internal/db"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Device tokens are long-lived: the phone pairs once and keeps posting
// sensor data in the background. There is no refresh flow.
const accessTokenTTL = 30 * 24 * time.Hour

var ErrInvalidPairingCode = errors.New("invalid pairing code")

type Service struct {
	secret      []byte
	pairingHash []byte
	db          db.Querier
}

type Claims struct {
	DeviceID string `json:"device_id"`
	jwt.RegisteredClaims
}

// NewService hashes the configured pairing code up front so the plain
// code never sits in the struct.
func NewService(secret, pairingCode string, querier db.Querier) *Service {
	hash, err := bcrypt.GenerateFromPassword([]byte(pairingCode), bcrypt.DefaultCost)
	if err != nil {
		// GenerateFromPassword only fails on cost bounds or oversized input
		panic(err)
	}
	return &Service{
		secret:      []byte(secret),
		pairingHash: hash,
		db:          querier,
	}
}

func (s *Service) Pair(ctx context.Context, req PairRequest) (Device, TokenResponse, error) {
	if req.Name == "" || req.PairingCode == "" {
		return Device{}, TokenResponse{}, errors.New("name and pairing_code required")
	}
	if err := bcrypt.CompareHashAndPassword(s.pairingHash, []byte(req.PairingCode)); err != nil {
		return Device{}, TokenResponse{}, ErrInvalidPairingCode
	}

	device := Device{
		ID:   uuid.NewString(),
		Name: req.Name,
	}
	row := s.db.QueryRow(ctx, `
		INSERT INTO devices (id, name)
		VALUES ($1,$2)
		RETURNING paired_at
	`, device.ID, device.Name)
	if err := row.Scan(&device.PairedAt); err != nil {
		return Device{}, TokenResponse{}, err
	}

	token, err := s.signToken(device.ID, accessTokenTTL)
	if err != nil {
		return Device{}, TokenResponse{}, err
	}
	return device, TokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(accessTokenTTL.Seconds()),
	}, nil
}

func (s *Service) ValidateAccessToken(token string) (string, error) {
	claims, err := s.parseToken(token)
	if err != nil {
		return "", err
	}
	return claims.DeviceID, nil
}

func (s *Service) signToken(deviceID string, ttl time.Duration) (string, error) {
	claims := Claims{
		DeviceID: deviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

func (s *Service) parseToken(token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(_ *jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, errors.New("token invalid")
	}
	return claims, nil
}
