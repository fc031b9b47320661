package wechat

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"subscription-billing/internal/infra/rsakeys"
)

const maxClockSkew = 5 * time.Minute

// authorization builds the WECHATPAY2-SHA256-RSA2048 header for a request.
func (a *Adapter) authorization(method, pathWithQuery string, body []byte) (string, error) {
	ts := strconv.FormatInt(a.now().Unix(), 10)
	nonce := a.nonce()
	msg := method + "\n" + pathWithQuery + "\n" + ts + "\n" + nonce + "\n" + string(body) + "\n"
	sig, err := rsakeys.Sign(a.priv, []byte(msg))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`WECHATPAY2-SHA256-RSA2048 mchid="%s",nonce_str="%s",signature="%s",timestamp="%s",serial_no="%s"`,
		a.cfg.MchID, nonce, sig, ts, a.cfg.SerialNo), nil
}

// verifySignature checks the Wechatpay-* headers WeChat attaches to both
// notifications and API responses.
func (a *Adapter) verifySignature(h http.Header, body []byte) error {
	ts := h.Get("Wechatpay-Timestamp")
	nonce := h.Get("Wechatpay-Nonce")
	sig := h.Get("Wechatpay-Signature")
	if ts == "" || nonce == "" || sig == "" {
		return errors.New("missing Wechatpay signature headers")
	}
	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("bad Wechatpay-Timestamp: %w", err)
	}
	skew := a.now().Sub(time.Unix(sec, 0))
	if skew > maxClockSkew || skew < -maxClockSkew {
		return fmt.Errorf("timestamp outside tolerance: %s", skew)
	}
	msg := ts + "\n" + nonce + "\n" + string(body) + "\n"
	return rsakeys.Verify(a.platformPub, []byte(msg), sig)
}

// decryptResource opens an AEAD_AES_256_GCM notification resource with the
// APIv3 key.
func decryptResource(apiV3Key string, r resource) ([]byte, error) {
	if r.Algorithm != "AEAD_AES_256_GCM" {
		return nil, fmt.Errorf("unsupported resource algorithm %q", r.Algorithm)
	}
	ct, err := base64.StdEncoding.DecodeString(r.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", err)
	}
	block, err := aes.NewCipher([]byte(apiV3Key))
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, len(r.Nonce))
	if err != nil {
		return nil, err
	}
	return gcm.Open(nil, []byte(r.Nonce), ct, []byte(r.AssociatedData))
}
