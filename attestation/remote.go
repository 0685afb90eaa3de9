package attestation

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/go-resty/resty/v2"
)

// Remote attestation service endpoints
const (
	remoteEncryptPath = "/v1/encrypt"
	remoteDecryptPath = "/v1/decrypt"
	remoteHealthPath  = "/v1/health"
)

// remotePayload request and response body of the remote encrypt / decrypt calls.
// Byte slices are base64 encoded by encoding/json.
type remotePayload struct {
	Data []byte `json:"data"`
}

// remoteSealer implements Sealer by calling an attestation service over HTTP
type remoteSealer struct {
	goutils.Component
	client *resty.Client
}

// RemoteSealerParams remote sealer parameters
type RemoteSealerParams struct {
	// BaseURL attestation service base URL
	BaseURL string
	// Timeout per request timeout
	Timeout time.Duration
}

/*
NewRemoteSealer define a sealer backed by a remote attestation service

	@param params RemoteSealerParams - client parameters
	@returns the sealer
*/
func NewRemoteSealer(params RemoteSealerParams) (Sealer, error) {
	if params.BaseURL == "" {
		return nil, fmt.Errorf("remote attestation service URL not provided")
	}
	if params.Timeout <= 0 {
		params.Timeout = 5 * time.Second
	}

	logTags := log.Fields{
		"module": "attestation", "component": "remote-sealer", "service": params.BaseURL,
	}

	client := resty.New().
		SetBaseURL(params.BaseURL).
		SetTimeout(params.Timeout).
		SetHeader("Content-Type", "application/json")

	return &remoteSealer{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		client: client,
	}, nil
}

// call make one seal / unseal request
func (s *remoteSealer) call(ctx context.Context, path string, input []byte) ([]byte, error) {
	var result remotePayload
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(remotePayload{Data: input}).
		SetResult(&result).
		Post(path)
	if err != nil {
		return nil, fmt.Errorf("attestation service request failed [%w]", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("attestation service returned %d", resp.StatusCode())
	}
	return result.Data, nil
}

/*
Encrypt seal plain text

	@param ctx context.Context - execution context
	@param plainText []byte - the plain text
	@returns the sealed payload
*/
func (s *remoteSealer) Encrypt(ctx context.Context, plainText []byte) ([]byte, error) {
	sealed, err := s.call(ctx, remoteEncryptPath, plainText)
	if err != nil {
		return nil, fmt.Errorf("remote seal failed [%w]", err)
	}
	if len(sealed) == 0 {
		return nil, fmt.Errorf("remote seal returned no data")
	}
	return sealed, nil
}

/*
Decrypt unseal a payload

	@param ctx context.Context - execution context
	@param sealed []byte - the sealed payload
	@returns the plain text
*/
func (s *remoteSealer) Decrypt(ctx context.Context, sealed []byte) ([]byte, error) {
	plainText, err := s.call(ctx, remoteDecryptPath, sealed)
	if err != nil {
		return nil, fmt.Errorf("remote unseal failed [%w]", err)
	}
	return plainText, nil
}

/*
IsAvailable whether the service can currently seal and unseal

	@param ctx context.Context - execution context
	@returns availability
*/
func (s *remoteSealer) IsAvailable(ctx context.Context) bool {
	resp, err := s.client.R().SetContext(ctx).Get(remoteHealthPath)
	if err != nil {
		log.WithError(err).WithFields(s.GetLogTagsForContext(ctx)).Warn("Health check failed")
		return false
	}
	return resp.StatusCode() == http.StatusOK
}
