package vapid

import (
	"errors"
	"fmt"

	"github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"
)

// publicKeyLen is the size of an uncompressed P-256 point.
const publicKeyLen = 65

// Keys is the application server key pair plus the contact subject sent in
// the VAPID JWT.
type Keys struct {
	Public  string
	Private string
	Subject string
}

// LoadKeys returns the configured key pair. When either half is missing a new
// pair is generated and logged so it can be persisted; subscriptions created
// against a generated key do not survive a restart without it.
func LoadKeys(public, private, subject string, logger *zap.SugaredLogger) (Keys, error) {
	k := Keys{Public: public, Private: private, Subject: subject}
	if k.Public == "" || k.Private == "" {
		logger.Warn("VAPID keys not found in environment, generating a new pair")
		priv, pub, err := webpush.GenerateVAPIDKeys()
		if err != nil {
			return Keys{}, fmt.Errorf("generate vapid keys: %w", err)
		}
		k.Public, k.Private = pub, priv
		logger.Infow("generated VAPID keys, add them to your .env file to persist them",
			"VAPID_PUBLIC_KEY", pub,
			"VAPID_PRIVATE_KEY", priv,
		)
	}
	if err := k.Validate(); err != nil {
		return Keys{}, err
	}
	return k, nil
}

// Validate checks that the public key is an uncompressed P-256 point.
func (k Keys) Validate() error {
	if k.Private == "" {
		return errors.New("vapid: private key is empty")
	}
	pub, err := k.ApplicationServerKey()
	if err != nil {
		return err
	}
	if len(pub) != publicKeyLen || pub[0] != 0x04 {
		return fmt.Errorf("vapid: public key must be a %d byte uncompressed point, got %d bytes", publicKeyLen, len(pub))
	}
	return nil
}

// ApplicationServerKey returns the decoded public key, the value passed as
// applicationServerKey when subscribing.
func (k Keys) ApplicationServerKey() ([]byte, error) {
	return DecodeKey(k.Public)
}
