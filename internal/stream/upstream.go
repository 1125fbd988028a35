package stream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/javaarchive/togetherfin/internal/core/ports"
	"github.com/javaarchive/togetherfin/pkg/cache"
	apperrors "github.com/javaarchive/togetherfin/pkg/errors"
	"github.com/javaarchive/togetherfin/pkg/retry"

	"go.uber.org/zap"
)

// maxUpstreamBody bounds any single upstream response the host will buffer.
const maxUpstreamBody = 64 << 20

// UpstreamConfig points the host agent at its media server.
type UpstreamConfig struct {
	ServerURL      string
	Token          string
	DeviceID       string
	RequestTimeout time.Duration
}

// UpstreamClient fetches manifests and media bytes from the credentialed
// media server. It implements ports.UpstreamSource. Manifests for VOD items
// never change, so they are cached; media bytes are not.
type UpstreamClient struct {
	cfg       UpstreamConfig
	http      *http.Client
	manifests *cache.Cache
	retryCfg  retry.Config
	logger    *zap.SugaredLogger
}

var _ ports.UpstreamSource = (*UpstreamClient)(nil)

func NewUpstreamClient(cfg UpstreamConfig, logger *zap.SugaredLogger) *UpstreamClient {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &UpstreamClient{
		cfg:       cfg,
		http:      &http.Client{Timeout: timeout},
		manifests: cache.New(5 * time.Minute),
		retryCfg:  retry.DefaultConfig(),
		logger:    logger,
	}
}

// Close releases the manifest cache.
func (c *UpstreamClient) Close() {
	c.manifests.Close()
}

// FetchManifest builds the transcode playlist URL for the request and
// returns the playlist text plus the base URL its relative URIs resolve
// against.
func (c *UpstreamClient) FetchManifest(ctx context.Context, req ports.ManifestRequest) (string, *url.URL, error) {
	manifestURL, err := c.manifestURL(req)
	if err != nil {
		return "", nil, err
	}

	base, err := url.Parse(manifestURL)
	if err != nil {
		return "", nil, fmt.Errorf("failed to parse manifest url: %w", err)
	}

	if cached, ok := c.manifests.Get(manifestURL); ok {
		return cached.(string), base, nil
	}

	body, _, err := c.FetchBytes(ctx, manifestURL)
	if err != nil {
		return "", nil, err
	}

	text := string(body)
	c.manifests.Set(manifestURL, text)
	return text, base, nil
}

// FetchBytes performs an authenticated GET against a private URL, retrying
// transient failures.
func (c *UpstreamClient) FetchBytes(ctx context.Context, privateURL string) ([]byte, string, error) {
	var body []byte
	var contentType string

	err := retry.Retry(ctx, c.retryCfg, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, privateURL, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", c.authHeader())

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("unexpected status %d", resp.StatusCode)
		}

		body, err = io.ReadAll(io.LimitReader(resp.Body, maxUpstreamBody))
		if err != nil {
			return err
		}
		contentType = resp.Header.Get("Content-Type")
		return nil
	})
	if err != nil {
		return nil, "", apperrors.NewUpstreamFetchError(err, privateURL)
	}
	return body, contentType, nil
}

func (c *UpstreamClient) manifestURL(req ports.ManifestRequest) (string, error) {
	base, err := url.Parse(c.cfg.ServerURL)
	if err != nil {
		return "", fmt.Errorf("invalid upstream server url: %w", err)
	}

	name := "main.m3u8"
	if req.Master {
		name = "master.m3u8"
	}
	base.Path = strings.TrimSuffix(base.Path, "/") + "/Videos/" + req.ItemID + "/" + name

	q := base.Query()
	q.Set("mediaSourceId", req.MediaSourceID)
	q.Set("playSessionId", req.PlaySessionID)
	q.Set("deviceId", c.cfg.DeviceID)
	q.Set("audioStreamIndex", strconv.Itoa(req.AudioTrack))
	if req.SubtitleTrack >= 0 {
		q.Set("subtitleStreamIndex", strconv.Itoa(req.SubtitleTrack))
		q.Set("subtitleMethod", "Hls")
	}
	if req.Profile.MaxWidth > 0 {
		q.Set("maxWidth", strconv.Itoa(req.Profile.MaxWidth))
	}
	if req.Profile.VideoBitRate > 0 {
		q.Set("videoBitRate", strconv.Itoa(req.Profile.VideoBitRate))
	}
	if req.Profile.AudioCodec != "" {
		q.Set("audioCodec", req.Profile.AudioCodec)
	}
	if req.Profile.AudioBitRate > 0 {
		q.Set("audioBitRate", strconv.Itoa(req.Profile.AudioBitRate))
	}
	q.Set("segmentContainer", "ts")
	base.RawQuery = q.Encode()

	return base.String(), nil
}

func (c *UpstreamClient) authHeader() string {
	return fmt.Sprintf(`MediaBrowser Token="%s", Client="Togetherfin", Device="host-agent", DeviceId="%s", Version="1.0"`,
		c.cfg.Token, c.cfg.DeviceID)
}

// vttTimestampMap anchors subtitle cue times to the transcode's MPEG-TS
// timeline. Some transcoders omit it from segmented WebVTT, which desyncs
// cues once playback starts mid-stream.
const vttTimestampMap = "X-TIMESTAMP-MAP=MPEGTS:900000,LOCAL:00:00:00.000"

// AddVttTimeMap injects the timestamp map into a WebVTT body that lacks one.
// Non-VTT content passes through unchanged.
func AddVttTimeMap(body []byte, contentType string) []byte {
	if !strings.Contains(strings.ToLower(contentType), "vtt") {
		return body
	}
	text := string(body)
	if strings.Contains(text, "X-TIMESTAMP-MAP") {
		return body
	}
	idx := strings.Index(text, "WEBVTT")
	if idx < 0 {
		return body
	}
	lineEnd := strings.Index(text[idx:], "\n")
	if lineEnd < 0 {
		return []byte(text + "\n" + vttTimestampMap + "\n")
	}
	insert := idx + lineEnd
	return []byte(text[:insert] + "\n" + vttTimestampMap + text[insert:])
}
