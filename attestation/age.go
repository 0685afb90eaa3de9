package attestation

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"filippo.io/age"
	"github.com/alwitt/goutils"
	"github.com/apex/log"
)

// ageSealer implements Sealer with a local X25519 age identity. It simulates an
// attested enclave in software.
type ageSealer struct {
	goutils.Component
	identity  *age.X25519Identity
	recipient *age.X25519Recipient
}

/*
NewAgeSealer define a software sealer from an age identity

	@param identity string - "AGE-SECRET-KEY-1..." encoded X25519 identity
	@returns the sealer
*/
func NewAgeSealer(identity string) (Sealer, error) {
	parsed, err := age.ParseX25519Identity(strings.TrimSpace(identity))
	if err != nil {
		return nil, fmt.Errorf("failed to parse age identity [%w]", err)
	}

	logTags := log.Fields{"module": "attestation", "component": "age-sealer"}

	return &ageSealer{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		identity:  parsed,
		recipient: parsed.Recipient(),
	}, nil
}

/*
GenerateIdentity generate a new age identity for the software sealer

	@returns the encoded identity, and its public recipient
*/
func GenerateIdentity() (string, string, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return "", "", fmt.Errorf("failed to generate age identity [%w]", err)
	}
	return identity.String(), identity.Recipient().String(), nil
}

/*
Encrypt seal plain text

	@param ctx context.Context - execution context
	@param plainText []byte - the plain text
	@returns the sealed payload
*/
func (s *ageSealer) Encrypt(_ context.Context, plainText []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, s.recipient)
	if err != nil {
		return nil, fmt.Errorf("failed to start age encryption [%w]", err)
	}
	if _, err := w.Write(plainText); err != nil {
		return nil, fmt.Errorf("age encryption write failed [%w]", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("age encryption close failed [%w]", err)
	}
	return buf.Bytes(), nil
}

/*
Decrypt unseal a payload

	@param ctx context.Context - execution context
	@param sealed []byte - the sealed payload
	@returns the plain text
*/
func (s *ageSealer) Decrypt(_ context.Context, sealed []byte) ([]byte, error) {
	r, err := age.Decrypt(bytes.NewReader(sealed), s.identity)
	if err != nil {
		return nil, fmt.Errorf("failed to start age decryption [%w]", err)
	}
	plainText, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("age decryption read failed [%w]", err)
	}
	return plainText, nil
}

/*
IsAvailable whether the service can currently seal and unseal

	@param ctx context.Context - execution context
	@returns availability
*/
func (s *ageSealer) IsAvailable(_ context.Context) bool {
	return s.identity != nil
}
