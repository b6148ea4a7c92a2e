// Package sessionid extracts a stable session identifier from an inbound
// request (spec §4.2's input to session binding): a cascade over explicit
// headers, then known JSON body fields, falling back to a deterministic
// hash of request fingerprint material when nothing else matches.
//
// Grounded on internal/adapter/inspector/simple.go's use of a
// configurable session header, generalised into the full header/body/hash
// cascade, and on the sender package's use of github.com/tidwall/gjson
// for read-only JSON field access.
package sessionid

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

const maxLength = 256

var bodyFields = []string{"session_id", "conversation_id", "thread_id", "chat_id"}

// Extract returns the session id for one inbound request, or "" if the
// cascade found nothing and the hash fallback had no usable material.
func Extract(headers http.Header, body []byte) string {
	if id := headers.Get("session_id"); id != "" {
		return clean(id)
	}
	if id := headers.Get("x-session-id"); id != "" {
		return clean(id)
	}

	if len(body) > 0 {
		for _, field := range bodyFields {
			if v := gjson.GetBytes(body, field); v.Exists() && v.String() != "" {
				return clean(v.String())
			}
		}
		if v := gjson.GetBytes(body, "prompt_cache_key"); v.Exists() && len(v.String()) > 20 {
			return clean(v.String())
		}
		if v := gjson.GetBytes(body, "previous_response_id"); v.Exists() && v.String() != "" {
			return clean("codex_prev_" + v.String())
		}
	}

	return fallbackHash(headers, body)
}

// fallbackHash derives sess_{32-hex} from the first message text segments
// (up to three) and the client identity headers (user-agent,
// x-forwarded-for/x-real-ip), none of which alone is stable enough to use
// directly. No credential material is hashed. It returns "" when the body
// has no message content and none of those headers is set.
func fallbackHash(headers http.Header, body []byte) string {
	h := sha256.New()
	hasMaterial := false
	segments := gjson.GetBytes(body, "messages.#.content").Array()
	for i, seg := range segments {
		if i >= 3 {
			break
		}
		if seg.String() != "" {
			hasMaterial = true
		}
		h.Write([]byte(seg.String()))
		h.Write([]byte{0})
	}
	userAgent := headers.Get("user-agent")
	clientAddr := headers.Get("x-forwarded-for") + headers.Get("x-real-ip")
	if !hasMaterial && userAgent == "" && clientAddr == "" {
		return ""
	}
	h.Write([]byte(userAgent))
	h.Write([]byte{0})
	h.Write([]byte(clientAddr))

	return "sess_" + hex.EncodeToString(h.Sum(nil))[:32]
}

func clean(id string) string {
	id = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, id)
	if len(id) > maxLength {
		id = id[:maxLength]
	}
	return id
}
