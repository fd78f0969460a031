// Package turn issues coturn REST credentials and the ICE server list handed
// to browsers.
//
//	username   = <unix_expiry>:<user>
//	credential = base64(hmac_sha1(shared_secret, username))
package turn

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
)

var (
	ErrNotConfigured = errors.New("TURN server not configured")
	ErrBadUser       = errors.New("user must be non-empty and must not contain ':'")
)

const DefaultTTL = 24 * time.Hour

type Config struct {
	Secret   string
	URLs     []string
	TTL      time.Duration
	STUNURLs []string
}

// Credentials is the JSON body of the credential endpoint. TTL is in seconds.
type Credentials struct {
	Username   string   `json:"username"`
	Credential string   `json:"credential"`
	URLs       []string `json:"urls"`
	TTL        int64    `json:"ttl"`
}

type Issuer struct {
	cfg Config
	now func() time.Time
}

func NewIssuer(cfg Config) *Issuer {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	return &Issuer{cfg: cfg, now: time.Now}
}

func (i *Issuer) Enabled() bool {
	return i != nil && i.cfg.Secret != "" && len(i.cfg.URLs) > 0
}

// Credentials returns short-lived TURN credentials bound to user.
func (i *Issuer) Credentials(user string) (Credentials, error) {
	if !i.Enabled() {
		return Credentials{}, ErrNotConfigured
	}
	if user == "" || strings.Contains(user, ":") {
		return Credentials{}, ErrBadUser
	}
	ttl := int64(i.cfg.TTL / time.Second)
	username := fmt.Sprintf("%d:%s", i.now().UTC().Unix()+ttl, user)
	return Credentials{
		Username:   username,
		Credential: Sign(i.cfg.Secret, username),
		URLs:       append([]string(nil), i.cfg.URLs...),
		TTL:        ttl,
	}, nil
}

// ICEServers lists the configured STUN servers followed by a TURN entry
// with fresh credentials for user, when TURN is enabled.
func (i *Issuer) ICEServers(user string) ([]webrtc.ICEServer, error) {
	var servers []webrtc.ICEServer
	if len(i.cfg.STUNURLs) > 0 {
		servers = append(servers, webrtc.ICEServer{URLs: append([]string(nil), i.cfg.STUNURLs...)})
	}
	if !i.Enabled() {
		return servers, nil
	}
	creds, err := i.Credentials(user)
	if err != nil {
		return nil, err
	}
	servers = append(servers, webrtc.ICEServer{
		URLs:           creds.URLs,
		Username:       creds.Username,
		Credential:     creds.Credential,
		CredentialType: webrtc.ICECredentialTypePassword,
	})
	return servers, nil
}

func Sign(secret, username string) string {
	mac := hmac.New(sha1.New, []byte(secret))
	_, _ = mac.Write([]byte(username))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
