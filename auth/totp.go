package auth

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jmcleod/opsvault/internal/util"
)

const (
	totpSecretBytes = 20
	totpDigits      = 6
	totpPeriod      = 30
	totpWindow      = 1
	totpIssuer      = "opsvault"
	totpSetupTTL    = 10 * time.Minute
)

var totpEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// GenerateSecret returns a fresh base32 TOTP seed.
func GenerateSecret() (string, error) {
	raw, err := util.RandomBytes(totpSecretBytes)
	if err != nil {
		return "", err
	}
	return totpEncoding.EncodeToString(raw), nil
}

func normalizeTOTPCode(code string) string {
	return strings.TrimSpace(strings.ReplaceAll(code, " ", ""))
}

func validTOTPCode(code string) bool {
	if len(code) != totpDigits {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func totpStep(t time.Time) int64 {
	return t.Unix() / totpPeriod
}

// matchStep returns the time step code is valid for, within one step of
// now either way.
func matchStep(secret, code string, now time.Time) (int64, bool) {
	code = normalizeTOTPCode(code)
	if !validTOTPCode(code) {
		return 0, false
	}
	key, err := decodeSecret(secret)
	if err != nil {
		return 0, false
	}
	defer util.WipeBytes(key)

	matched, found := int64(0), false
	current := totpStep(now)
	for step := current - totpWindow; step <= current+totpWindow; step++ {
		expected := codeForStep(key, step)
		if subtle.ConstantTimeCompare([]byte(expected), []byte(code)) == 1 && !found {
			matched, found = step, true
		}
	}
	return matched, found
}

// GenerateCode returns the code for secret at t. Seeds are accepted with
// or without padding and in either case, with spaces ignored.
func GenerateCode(secret string, t time.Time) (string, error) {
	key, err := decodeSecret(secret)
	if err != nil {
		return "", err
	}
	defer util.WipeBytes(key)
	return codeForStep(key, totpStep(t)), nil
}

// CodeValidFor reports how long the code for t stays current.
func CodeValidFor(t time.Time) time.Duration {
	next := time.Unix((totpStep(t)+1)*totpPeriod, 0)
	return next.Sub(t)
}

func decodeSecret(secret string) ([]byte, error) {
	s := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(secret), " ", ""))
	s = strings.TrimRight(s, "=")
	key, err := totpEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decoding totp secret: %w", err)
	}
	if len(key) == 0 {
		return nil, fmt.Errorf("decoding totp secret: empty")
	}
	return key, nil
}

func codeForStep(key []byte, step int64) string {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(step))

	mac := hmac.New(sha1.New, key)
	_, _ = mac.Write(msg[:])
	sum := mac.Sum(nil)
	offset := sum[len(sum)-1] & 0x0f
	binCode := (int(sum[offset])&0x7f)<<24 |
		(int(sum[offset+1])&0xff)<<16 |
		(int(sum[offset+2])&0xff)<<8 |
		(int(sum[offset+3]) & 0xff)
	return fmt.Sprintf("%06d", binCode%1000000)
}

// OTPAuthURL returns the provisioning URI for an authenticator app.
func OTPAuthURL(secret, accountLabel string) string {
	label := url.PathEscape(totpIssuer + ":" + accountLabel)
	values := url.Values{}
	values.Set("secret", secret)
	values.Set("issuer", totpIssuer)
	values.Set("algorithm", "SHA1")
	values.Set("digits", strconv.Itoa(totpDigits))
	values.Set("period", strconv.Itoa(totpPeriod))
	return "otpauth://totp/" + label + "?" + values.Encode()
}
