package models

import (
	"reflect"
	"regexp"

	"github.com/go-playground/validator/v10"
)

// ProxyIDPrefix prefix of every proxy key
const ProxyIDPrefix = "priv_"

// proxyIDPattern proxy key wire format: prefix followed by 32 lowercase hex characters
var proxyIDPattern = regexp.MustCompile(`^priv_[0-9a-f]{32}$`)

// IsValidProxyID whether the string is a well formed proxy key
func IsValidProxyID(proxyID string) bool {
	return proxyIDPattern.MatchString(proxyID)
}

// MaskProxyID reduce a proxy key to its first 12 and last 4 characters for logging
// and audit details
func MaskProxyID(proxyID string) string {
	if len(proxyID) <= 16 {
		return "****"
	}
	return proxyID[:12] + "..." + proxyID[len(proxyID)-4:]
}

/*
RegisterWithValidator register with the validator this custom validation support

	@param v *validator.Validate - the validator to register against
	@return whether successful
*/
func RegisterWithValidator(v *validator.Validate) error {
	customValidations := map[string]validator.Func{
		"proxy_id":          validateProxyID,
		"payload_scheme":    validatePayloadScheme,
		"ban_reason":        validateBanReason,
		"session_state":     validateSessionState,
		"notification_kind": validateNotificationKind,
	}
	for tag, fn := range customValidations {
		if err := v.RegisterValidation(tag, fn); err != nil {
			return err
		}
	}
	return nil
}

func validateProxyID(fl validator.FieldLevel) bool {
	if fl.Field().Kind() != reflect.String {
		return false
	}
	return IsValidProxyID(fl.Field().String())
}

func validatePayloadScheme(fl validator.FieldLevel) bool {
	if fl.Field().Kind() != reflect.String {
		return false
	}
	switch PayloadSchemeENUMType(fl.Field().String()) {
	case PayloadSchemeAEADFallback:
		fallthrough
	case PayloadSchemeAttested:
		return true
	}
	return false
}

func validateBanReason(fl validator.FieldLevel) bool {
	if fl.Field().Kind() != reflect.String {
		return false
	}
	switch BanReasonENUMType(fl.Field().String()) {
	case BanReasonSpam:
		fallthrough
	case BanReasonAbuse:
		fallthrough
	case BanReasonPermanent:
		return true
	}
	return false
}

func validateSessionState(fl validator.FieldLevel) bool {
	if fl.Field().Kind() != reflect.String {
		return false
	}
	switch SessionStateENUMType(fl.Field().String()) {
	case SessionStateLocked:
		fallthrough
	case SessionStateUnlocked:
		return true
	}
	return false
}

func validateNotificationKind(fl validator.FieldLevel) bool {
	if fl.Field().Kind() != reflect.String {
		return false
	}
	return NotificationKindENUMType(fl.Field().String()) == NotificationKindKeyRotated
}
