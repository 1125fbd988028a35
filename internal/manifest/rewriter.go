package manifest

import (
	"fmt"
	"math"
	"net/url"
	"path"
	"strings"
	"sync"

	"github.com/javaarchive/togetherfin/internal/core/domain"
	"github.com/javaarchive/togetherfin/pkg/crypto"

	"github.com/grafov/m3u8"
	"go.uber.org/zap"
)

// opaquePrefix marks a URI that has already been rewritten. Opaque URIs
// carry no upstream information: just the content ID and a file extension
// so players pick the right demuxer.
const opaquePrefix = "opaque://"

// OpaqueURI builds the relay-safe reference for a content ID.
func OpaqueURI(id domain.ContentID, ext string) string {
	return opaquePrefix + string(id) + ext
}

// IsOpaque reports whether a URI has already been rewritten.
func IsOpaque(uri string) bool {
	return strings.HasPrefix(uri, opaquePrefix)
}

// ParseOpaqueURI extracts the content ID from an opaque reference.
func ParseOpaqueURI(uri string) (domain.ContentID, bool) {
	if !IsOpaque(uri) {
		return "", false
	}
	name := strings.TrimPrefix(uri, opaquePrefix)
	name = strings.TrimSuffix(name, path.Ext(name))
	if name == "" {
		return "", false
	}
	return domain.ContentID(name), true
}

// IsPlaylistContentType reports whether a response content type indicates an
// HLS playlist. Manifests fetched through the relay are detected this way
// and run back through the rewriter.
func IsPlaylistContentType(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "mpegurl") || strings.Contains(ct, "vnd.apple.mpegurl")
}

// SegmentInfo is one media segment's place on the timeline plus its opaque
// ID. Intervals are half-open [start,end) and gapless: each segment starts
// exactly where the previous one ended.
type SegmentInfo struct {
	ID          domain.ContentID
	StartSec    float64
	EndSec      float64
	DurationSec float64
}

// Rewriter converts credentialed manifests into opaque, relay-safe ones.
// It accumulates the contentID to private URL table and the segment
// timeline across every playlist it processes, so a master playlist and
// its media playlists share one namespace.
type Rewriter struct {
	mu       sync.Mutex
	urls     map[domain.ContentID]string
	segments []SegmentInfo
	known    map[domain.ContentID]struct{}
	logger   *zap.SugaredLogger
}

func NewRewriter(logger *zap.SugaredLogger) *Rewriter {
	return &Rewriter{
		urls:   make(map[domain.ContentID]string),
		known:  make(map[domain.ContentID]struct{}),
		logger: logger,
	}
}

// Rewrite parses a master or media playlist, replaces every upstream URI
// with an opaque content reference, and returns the rewritten text.
// Already-opaque URIs pass through untouched, so rewriting is idempotent.
func (r *Rewriter) Rewrite(manifestText string, base *url.URL) (string, error) {
	playlist, listType, err := m3u8.DecodeFrom(strings.NewReader(manifestText), false)
	if err != nil {
		return "", fmt.Errorf("failed to parse playlist: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	switch listType {
	case m3u8.MASTER:
		master := playlist.(*m3u8.MasterPlaylist)
		r.rewriteMaster(master, base)
		return master.Encode().String(), nil
	case m3u8.MEDIA:
		media := playlist.(*m3u8.MediaPlaylist)
		r.rewriteMedia(media, base)
		return media.Encode().String(), nil
	default:
		return "", fmt.Errorf("unrecognized playlist type")
	}
}

func (r *Rewriter) rewriteMaster(master *m3u8.MasterPlaylist, base *url.URL) {
	seen := make(map[*m3u8.Alternative]struct{})
	for _, variant := range master.Variants {
		if variant == nil {
			continue
		}
		// variant playlists are manifest-class resources
		variant.URI = r.rewriteURI(variant.URI, base, true, ".m3u8")

		for _, alt := range variant.Alternatives {
			if alt == nil || alt.URI == "" {
				continue
			}
			// the same alternative may be shared between variants
			if _, done := seen[alt]; done {
				continue
			}
			seen[alt] = struct{}{}
			alt.URI = r.rewriteURI(alt.URI, base, true, ".m3u8")
		}
	}
}

func (r *Rewriter) rewriteMedia(media *m3u8.MediaPlaylist, base *url.URL) {
	if media.Map != nil && media.Map.URI != "" {
		media.Map.URI = r.rewriteURI(media.Map.URI, base, true, ".mp4")
	}

	cur := 0.0
	for _, segment := range media.Segments {
		if segment == nil {
			continue
		}

		// an init segment nested inside a media segment is rewritten
		// independently with the same content-addressing function
		if segment.Map != nil && segment.Map.URI != "" {
			segment.Map.URI = r.rewriteURI(segment.Map.URI, base, true, ".mp4")
		}

		duration := segment.Duration
		if math.IsNaN(duration) || duration < 0 {
			// malformed durations never reject the manifest
			duration = 0
		}

		ext := segmentExt(segment.URI)
		uri := segment.URI
		segment.URI = r.rewriteURI(uri, base, false, ext)

		id, ok := ParseOpaqueURI(segment.URI)
		if !ok {
			cur += duration
			continue
		}
		if _, exists := r.known[id]; !exists {
			r.known[id] = struct{}{}
			r.segments = append(r.segments, SegmentInfo{
				ID:          id,
				StartSec:    cur,
				EndSec:      cur + duration,
				DurationSec: duration,
			})
		}
		cur += duration
	}
}

// rewriteURI resolves a URI against the base, content-addresses it and
// records the mapping. Caller must hold r.mu.
func (r *Rewriter) rewriteURI(uri string, base *url.URL, special bool, ext string) string {
	if uri == "" || IsOpaque(uri) {
		return uri
	}

	ref, err := url.Parse(uri)
	if err != nil {
		r.logger.Warnw("unparseable URI left untouched", "uri", uri, "error", err)
		return uri
	}
	absolute := base.ResolveReference(ref).String()

	id := domain.ContentID(crypto.HashString(absolute))
	if special {
		id = domain.ContentID(domain.SpecialPrefix) + id
	}

	if _, exists := r.urls[id]; !exists {
		r.urls[id] = absolute
	}
	return OpaqueURI(id, ext)
}

// SpecialIDs lists every manifest-class content ID recorded so far. The host
// prefetches these eagerly since they are referenced for the whole session.
func (r *Rewriter) SpecialIDs() []domain.ContentID {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.ContentID
	for id := range r.urls {
		if id.Special() {
			out = append(out, id)
		}
	}
	return out
}

// PrivateURL resolves a content ID back to its credentialed upstream URL.
func (r *Rewriter) PrivateURL(id domain.ContentID) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.urls[id]
	return u, ok
}

// Segments returns a snapshot of the accumulated segment timeline.
func (r *Rewriter) Segments() []SegmentInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]SegmentInfo, len(r.segments))
	copy(out, r.segments)
	return out
}

func segmentExt(uri string) string {
	switch ext := strings.ToLower(path.Ext(strings.SplitN(uri, "?", 2)[0])); ext {
	case ".ts", ".mp4", ".m4s", ".vtt", ".aac", ".webvtt":
		return ext
	default:
		return ".ts"
	}
}
