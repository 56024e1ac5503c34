package bitget

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
)

// sign implements the venue's published request signing scheme:
// base64(HMAC-SHA256(secret, timestamp + METHOD + path + body)).
func sign(secret, timestamp, method, path, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + method + path + body))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
