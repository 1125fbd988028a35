package stream

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/javaarchive/togetherfin/internal/core/domain"
	"github.com/javaarchive/togetherfin/internal/core/ports"
	"github.com/javaarchive/togetherfin/pkg/crypto"
	apperrors "github.com/javaarchive/togetherfin/pkg/errors"
	"github.com/javaarchive/togetherfin/pkg/retry"

	"go.uber.org/zap"
)

// challengePayload is the plaintext inside a room challenge. Decrypting it
// and matching the id proves key possession without ever sending the key.
type challengePayload struct {
	ID string `json:"id"`
}

// RelayClient is the host and guest side of the relay HTTP API. It owns the
// room key: everything it uploads is encrypted first, everything it
// downloads is decrypted before being handed out. It implements
// ports.RelayPublisher.
type RelayClient struct {
	baseURL string
	roomID  domain.RoomID
	roomKey string

	mu         sync.RWMutex
	sessionKey string

	http     *http.Client
	retryCfg retry.Config
	logger   *zap.SugaredLogger
}

var _ ports.RelayPublisher = (*RelayClient)(nil)

func NewRelayClient(baseURL string, roomID domain.RoomID, roomKey string, logger *zap.SugaredLogger) *RelayClient {
	return &RelayClient{
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		roomID:   roomID,
		roomKey:  roomKey,
		http:     &http.Client{Timeout: 30 * time.Second},
		retryCfg: retry.DefaultConfig(),
		logger:   logger,
	}
}

// SessionKey returns the credential from the last successful Open.
func (c *RelayClient) SessionKey() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionKey
}

// Open registers (or reclaims) the room on the relay. The challenge is the
// room id encrypted under the room key, so guests can verify their key
// before joining.
func (c *RelayClient) Open(ctx context.Context, owner string) error {
	plaintext, err := json.Marshal(challengePayload{ID: string(c.roomID)})
	if err != nil {
		return err
	}
	challenge, err := crypto.EncryptToBuffer(plaintext, c.roomKey)
	if err != nil {
		return err
	}

	body, err := json.Marshal(map[string]string{
		"id":        string(c.roomID),
		"challenge": base64.StdEncoding.EncodeToString(challenge),
		"owner":     owner,
	})
	if err != nil {
		return err
	}

	resp, respBody, err := c.do(ctx, http.MethodPut, "/api/room", body, "application/json", false)
	if err != nil {
		return err
	}
	switch resp {
	case http.StatusOK:
	case http.StatusConflict:
		return apperrors.NewOwnershipConflictError("room already exists and is owned by someone else")
	case http.StatusUnauthorized:
		return apperrors.NewAuthenticationError("host code rejected by relay")
	default:
		return fmt.Errorf("relay returned status %d opening room", resp)
	}

	var parsed struct {
		OK         bool   `json:"ok"`
		SessionKey string `json:"sessionKey"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil || !parsed.OK || parsed.SessionKey == "" {
		return fmt.Errorf("relay returned malformed open response")
	}

	c.mu.Lock()
	c.sessionKey = parsed.SessionKey
	c.mu.Unlock()

	c.logger.Infow("room opened on relay", "room_id", c.roomID)
	return nil
}

// VerifyChallenge fetches the room's challenge and checks that the room key
// decrypts it to this room's id.
func (c *RelayClient) VerifyChallenge(ctx context.Context) error {
	status, respBody, err := c.do(ctx, http.MethodGet, "/api/room/"+string(c.roomID), nil, "", false)
	if err != nil {
		return err
	}
	if status == http.StatusNotFound {
		return apperrors.NewNotFoundError("room")
	}
	if status != http.StatusOK {
		return fmt.Errorf("relay returned status %d fetching room", status)
	}

	var parsed struct {
		Challenge string `json:"challenge"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return fmt.Errorf("relay returned malformed room response")
	}

	buffer, err := base64.StdEncoding.DecodeString(parsed.Challenge)
	if err != nil {
		return apperrors.NewAuthenticationError("challenge is not valid base64")
	}
	plaintext, err := crypto.DecryptFromBuffer(buffer, c.roomKey)
	if err != nil {
		return err
	}

	var payload challengePayload
	if err := json.Unmarshal(plaintext, &payload); err != nil || payload.ID != string(c.roomID) {
		return apperrors.NewAuthenticationError("challenge decrypted to an unexpected room id")
	}
	return nil
}

// Publish encrypts a plaintext blob and uploads it under the content id.
func (c *RelayClient) Publish(ctx context.Context, id domain.ContentID, plaintext []byte, contentType string) error {
	ciphertext, err := crypto.EncryptToBuffer(plaintext, c.roomKey)
	if err != nil {
		return err
	}

	return retry.Retry(ctx, c.retryCfg, func() error {
		status, _, err := c.do(ctx, http.MethodPut, c.filePath(id), ciphertext, contentType, true)
		if err != nil {
			return err
		}
		if status != http.StatusOK {
			return fmt.Errorf("relay returned status %d uploading %s", status, id)
		}
		return nil
	})
}

// GetFile downloads and decrypts a blob. Not-found surfaces as a typed
// error so callers can wait for a file_put notification instead of failing.
func (c *RelayClient) GetFile(ctx context.Context, id domain.ContentID) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+c.filePath(id), nil)
	if err != nil {
		return nil, "", err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, "", apperrors.NewNotFoundError("file")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("relay returned status %d downloading %s", resp.StatusCode, id)
	}

	ciphertext, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamBody))
	if err != nil {
		return nil, "", err
	}

	plaintext, err := crypto.DecryptFromBuffer(ciphertext, c.roomKey)
	if err != nil {
		return nil, "", err
	}
	return plaintext, resp.Header.Get("Content-Type"), nil
}

// Close deletes the room from the relay.
func (c *RelayClient) Close(ctx context.Context) error {
	status, _, err := c.do(ctx, http.MethodDelete, "/api/room/"+string(c.roomID), nil, "", true)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("relay returned status %d closing room", status)
	}
	return nil
}

func (c *RelayClient) filePath(id domain.ContentID) string {
	return "/api/room/" + string(c.roomID) + "/file/" + string(id)
}

func (c *RelayClient) do(ctx context.Context, method, path string, body []byte, contentType string, authed bool) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if authed {
		req.Header.Set("Authorization", "Bearer "+c.SessionKey())
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, respBody, nil
}
