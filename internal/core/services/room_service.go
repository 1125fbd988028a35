package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/javaarchive/togetherfin/internal/core/domain"
	"github.com/javaarchive/togetherfin/internal/core/ports"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// SessionIssuer is the JWT issuer claim on room session credentials.
const SessionIssuer = "Togetherfin"

var (
	ErrInvalidSessionKey = errors.New("invalid session key")
	ErrInvalidHostCode   = errors.New("invalid host code")
)

// SessionClaims binds a session credential to one room and owner claim.
type SessionClaims struct {
	RoomID string `json:"id"`
	Owner  string `json:"owner"`
	jwt.RegisteredClaims
}

// HostCodeManager gates room creation behind an administrator-issued code
// set. An empty set disables the gate entirely.
type HostCodeManager struct {
	mu    sync.RWMutex
	codes map[string]struct{}
}

func NewHostCodeManager(codes []string) *HostCodeManager {
	m := &HostCodeManager{}
	m.Reload(codes)
	return m
}

// Reload replaces the code set atomically.
func (m *HostCodeManager) Reload(codes []string) {
	next := make(map[string]struct{}, len(codes))
	for _, code := range codes {
		if code != "" {
			next[code] = struct{}{}
		}
	}
	m.mu.Lock()
	m.codes = next
	m.mu.Unlock()
}

func (m *HostCodeManager) Check(code string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.codes[code]
	return ok
}

func (m *HostCodeManager) Enabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.codes) > 0
}

// RoomService owns the room lifecycle and session credential issuance.
type RoomService struct {
	repo       ports.RoomRepository
	hostCodes  *HostCodeManager
	jwtSecret  []byte
	sessionTTL time.Duration
	logger     *zap.SugaredLogger
}

func NewRoomService(repo ports.RoomRepository, hostCodes *HostCodeManager, jwtSecret string, sessionTTL time.Duration, logger *zap.SugaredLogger) *RoomService {
	return &RoomService{
		repo:       repo,
		hostCodes:  hostCodes,
		jwtSecret:  []byte(jwtSecret),
		sessionTTL: sessionTTL,
		logger:     logger,
	}
}

// OpenRoom registers a room (or re-opens one the same owner already holds)
// and returns it with a fresh session credential. The challenge is opaque
// ciphertext; the service stores it without inspecting it.
func (s *RoomService) OpenRoom(ctx context.Context, id domain.RoomID, challenge, owner string) (*domain.Room, string, error) {
	if s.hostCodes.Enabled() && !s.hostCodes.Check(owner) {
		return nil, "", ErrInvalidHostCode
	}

	room, err := s.repo.GetByID(ctx, id)
	switch {
	case err == nil:
		if room.Owner == "" || room.Owner != owner {
			return nil, "", domain.ErrRoomOwned
		}
		// same owner reclaiming their room, refresh the challenge
		room.Challenge = challenge
	case errors.Is(err, domain.ErrRoomNotFound):
		room = &domain.Room{ID: id, Challenge: challenge, Owner: owner}
		if err := s.repo.Create(ctx, room); err != nil {
			return nil, "", err
		}
	default:
		return nil, "", err
	}

	sessionKey, err := s.IssueSessionKey(room)
	if err != nil {
		return nil, "", err
	}

	s.logger.Infow("room opened", "room_id", id, "owned", owner != "")
	return room, sessionKey, nil
}

// GetRoom returns a room by id.
func (s *RoomService) GetRoom(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	return s.repo.GetByID(ctx, id)
}

// CloseRoom drops the room record.
func (s *RoomService) CloseRoom(ctx context.Context, id domain.RoomID) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Infow("room closed", "room_id", id)
	return nil
}

// HostCodesEnabled reports whether this instance gates room creation.
func (s *RoomService) HostCodesEnabled() bool {
	return s.hostCodes.Enabled()
}

// CheckHostCode validates a host code against the configured set.
func (s *RoomService) CheckHostCode(code string) bool {
	return s.hostCodes.Check(code)
}

// IssueSessionKey signs a time-limited credential scoped to the room and
// its owner claim.
func (s *RoomService) IssueSessionKey(room *domain.Room) (string, error) {
	claims := &SessionClaims{
		RoomID: string(room.ID),
		Owner:  room.Owner,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    SessionIssuer,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.sessionTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

// VerifySessionKey checks signature, issuer and expiry, and returns the
// embedded room claim.
func (s *RoomService) VerifySessionKey(tokenString string) (*domain.RoomClaim, error) {
	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidSessionKey
		}
		return s.jwtSecret, nil
	}, jwt.WithIssuer(SessionIssuer))
	if err != nil {
		return nil, ErrInvalidSessionKey
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidSessionKey
	}

	return &domain.RoomClaim{ID: claims.RoomID, Owner: claims.Owner}, nil
}
