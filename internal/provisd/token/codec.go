// Package token mints and verifies the signed, expiring capabilities that
// authorize artifact delivery to a provisioning host.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/provisboard/provisd/pkg/errors"
)

// Codec mints and verifies delivery tokens. A token is
// "<unix-seconds>.<hex-hmac-sha256>" where the signature covers the literal
// concatenation "<clientAddress>:<artifactName>:<unix-seconds>".
//
// Tokens carry no replay counter: the remote host's download tool retries
// the same URL, so a token stays valid for its whole window.
type Codec struct {
	secret []byte
	window time.Duration

	// now is swappable for tests
	now func() time.Time
}

// New creates a codec with the given shared secret and validity window
func New(secret string, window time.Duration) *Codec {
	return &Codec{
		secret: []byte(secret),
		window: window,
		now:    time.Now,
	}
}

// Mint issues a token bound to (clientAddress, artifactName) at the current time
func (c *Codec) Mint(clientAddress, artifactName string) string {
	issued := c.now().Unix()
	return fmt.Sprintf("%d.%s", issued, c.sign(clientAddress, artifactName, issued))
}

// Verify checks a token against (clientAddress, artifactName) at the current
// time. It returns nil for a valid token, errors.ErrTokenExpired when the
// validity window has elapsed, and errors.ErrTokenTampered for any malformed
// or signature-mismatching token.
func (c *Codec) Verify(clientAddress, artifactName, tok string) error {
	parts := strings.Split(tok, ".")
	if len(parts) != 2 {
		return errors.ErrTokenTampered
	}

	issued, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return errors.ErrTokenTampered
	}

	got, err := hex.DecodeString(parts[1])
	if err != nil {
		return errors.ErrTokenTampered
	}

	want, _ := hex.DecodeString(c.sign(clientAddress, artifactName, issued))
	if !hmac.Equal(got, want) {
		return errors.ErrTokenTampered
	}

	if c.now().Sub(time.Unix(issued, 0)) > c.window {
		return errors.ErrTokenExpired
	}

	return nil
}

func (c *Codec) sign(clientAddress, artifactName string, issued int64) string {
	mac := hmac.New(sha256.New, c.secret)
	fmt.Fprintf(mac, "%s:%s:%d", clientAddress, artifactName, issued)
	return hex.EncodeToString(mac.Sum(nil))
}
