package auth

import (
    "crypto/hmac"
    "crypto/sha256"
    "encoding/base64"
    "encoding/hex"
    "errors"
    "net/http"
    "strconv"
    "strings"
    "time"
)

var (
    ErrTokenFormat  = errors.New("invalid token format")
    ErrTokenSig     = errors.New("invalid token signature")
    ErrTokenExp     = errors.New("token expired")
    ErrTokenMissing = errors.New("missing token")
)

// GenerateObserverToken signs a token for an observer named subject.
// Format: base64url(subject + "." + exp_unix + "." + hex(hmac_sha256(secret, subject+"."+exp)))
func GenerateObserverToken(secret, subject string, expUnix int64) (string, error) {
    if strings.Contains(subject, ".") {
        return "", ErrTokenFormat
    }
    msg := subject + "." + strconv.FormatInt(expUnix, 10)
    raw := msg + "." + sign(secret, msg)
    return base64.RawURLEncoding.EncodeToString([]byte(raw)), nil
}

// ValidateObserverToken returns the subject and expiry of a valid token.
// A token stays valid for skewSeconds past its expiry.
func ValidateObserverToken(secret, token string, now time.Time, skewSeconds int) (string, int64, error) {
    if token == "" {
        return "", 0, ErrTokenMissing
    }
    b, err := base64.RawURLEncoding.DecodeString(token)
    if err != nil {
        return "", 0, ErrTokenFormat
    }
    parts := strings.Split(string(b), ".")
    if len(parts) != 3 {
        return "", 0, ErrTokenFormat
    }
    subject, expStr, sigHex := parts[0], parts[1], parts[2]
    exp, err := strconv.ParseInt(expStr, 10, 64)
    if err != nil {
        return "", 0, ErrTokenFormat
    }
    got, err := hex.DecodeString(sigHex)
    if err != nil {
        return "", 0, ErrTokenFormat
    }
    want, _ := hex.DecodeString(sign(secret, subject+"."+expStr))
    if !hmac.Equal(want, got) {
        return "", 0, ErrTokenSig
    }
    if now.Unix() > exp+int64(skewSeconds) {
        return "", 0, ErrTokenExp
    }
    return subject, exp, nil
}

// FromRequest reads a token from the "token" query parameter or a bearer header.
func FromRequest(r *http.Request) string {
    if t := r.URL.Query().Get("token"); t != "" {
        return t
    }
    if authz := r.Header.Get("Authorization"); strings.HasPrefix(authz, "Bearer ") {
        return strings.TrimPrefix(authz, "Bearer ")
    }
    return ""
}

func sign(secret, msg string) string {
    mac := hmac.New(sha256.New, []byte(secret))
    mac.Write([]byte(msg))
    return hex.EncodeToString(mac.Sum(nil))
}
