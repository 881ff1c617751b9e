package auth

import (
	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/shelfcast/internal/infra/config"
)

// Stores bundles the collaborators verifiers depend on.
type Stores struct {
	Users       UserStore
	APIKeys     APIKeyStore
	Revocations RevocationStore
}

// NewChainFromConfig creates a verifier chain from configuration.
// Verifiers run in the configured order.
func NewChainFromConfig(cfg *config.Config, stores Stores) (*Chain, error) {
	if len(cfg.Auth.Verifiers) == 0 {
		return nil, errors.New("no auth verifiers configured")
	}

	var verifiers []Verifier

	for i, vcfg := range cfg.Auth.Verifiers {
		var v Verifier
		var err error
		switch vcfg.Type {
		case "jwt":
			var settings JWTSettings
			if err = decodeSettings(vcfg.Settings, &settings); err == nil {
				v = NewJWTVerifier(settings, stores.Users, stores.Revocations)
			}

		case "apikey":
			var settings APIKeySettings
			if err = decodeSettings(vcfg.Settings, &settings); err == nil {
				v = NewAPIKeyVerifier(settings, stores.APIKeys, stores.Users)
			}

		default:
			return nil, errors.Newf("unsupported verifier type: %s (verifier index %d)", vcfg.Type, i)
		}

		if err != nil {
			return nil, errors.Wrapf(err, "failed to create verifier (index %d, type %s)", i, vcfg.Type)
		}

		verifiers = append(verifiers, v)
		zlog.Info().Msgf("registered auth verifier: index=%d type=%s", i+1, vcfg.Type)
	}

	return NewChain(verifiers...), nil
}

// decodeSettings decodes a free-form settings map into out, applies
// defaults and validates the result.
func decodeSettings(settings map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:  out,
		TagName: "mapstructure",
	})
	if err != nil {
		return errors.Wrap(err, "failed to create decoder")
	}

	if err := decoder.Decode(settings); err != nil {
		return errors.Wrap(err, "failed to decode settings")
	}

	if err := defaults.Set(out); err != nil {
		return errors.Wrap(err, "failed to set defaults")
	}

	if err := validator.New().Struct(out); err != nil {
		return errors.Wrap(err, "settings validation failed")
	}

	return nil
}
