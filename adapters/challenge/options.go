// Package challenge normalizes server-issued WebAuthn options payloads.
//
// The identity service returns options either as a JSON object or as a JSON
// string containing the object, optionally wrapped in a "publicKey" member.
// Every variant is reduced to one typed value; anything else is a
// core.ErrMalformedChallenge.
package challenge

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/go-webauthn/webauthn/protocol"

	"github.com/myeganeh2876/MomentumPasskeyTest/core"
)

// maxStringDepth bounds how many layers of string encoding are unwrapped
const maxStringDepth = 2

// ParseAuthentication normalizes authentication (request) options
func ParseAuthentication(raw []byte) (core.AuthenticationChallenge, error) {
	object, err := unwrap(raw)
	if err != nil {
		return core.AuthenticationChallenge{}, err
	}

	var options protocol.PublicKeyCredentialRequestOptions
	if err := json.Unmarshal(object, &options); err != nil {
		return core.AuthenticationChallenge{}, fmt.Errorf("%w: %w", core.ErrMalformedChallenge, err)
	}
	if len(options.Challenge) == 0 {
		return core.AuthenticationChallenge{}, fmt.Errorf("%w: missing challenge", core.ErrMalformedChallenge)
	}

	return core.AuthenticationChallenge{Options: options, Raw: object}, nil
}

// ParseRegistration normalizes registration (creation) options
func ParseRegistration(raw []byte) (core.RegistrationChallenge, error) {
	object, err := unwrap(raw)
	if err != nil {
		return core.RegistrationChallenge{}, err
	}

	var options protocol.PublicKeyCredentialCreationOptions
	if err := json.Unmarshal(object, &options); err != nil {
		return core.RegistrationChallenge{}, fmt.Errorf("%w: %w", core.ErrMalformedChallenge, err)
	}
	if len(options.Challenge) == 0 {
		return core.RegistrationChallenge{}, fmt.Errorf("%w: missing challenge", core.ErrMalformedChallenge)
	}
	if options.User.ID == nil {
		return core.RegistrationChallenge{}, fmt.Errorf("%w: missing user id", core.ErrMalformedChallenge)
	}

	return core.RegistrationChallenge{Options: options, Raw: object}, nil
}

// unwrap strips string encoding and a publicKey envelope, returning the options object
func unwrap(raw []byte) (json.RawMessage, error) {
	data := bytes.TrimSpace(raw)
	for depth := 0; len(data) > 0 && data[0] == '"'; depth++ {
		if depth == maxStringDepth {
			return nil, fmt.Errorf("%w: options nested in too many strings", core.ErrMalformedChallenge)
		}
		var inner string
		if err := json.Unmarshal(data, &inner); err != nil {
			return nil, fmt.Errorf("%w: %w", core.ErrMalformedChallenge, err)
		}
		data = bytes.TrimSpace([]byte(inner))
	}
	if len(data) == 0 || data[0] != '{' {
		return nil, fmt.Errorf("%w: options are not a JSON object", core.ErrMalformedChallenge)
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrMalformedChallenge, err)
	}
	if inner, ok := envelope["publicKey"]; ok {
		inner = bytes.TrimSpace(inner)
		if len(inner) == 0 || inner[0] != '{' {
			return nil, fmt.Errorf("%w: publicKey is not an object", core.ErrMalformedChallenge)
		}
		return json.RawMessage(inner), nil
	}
	return json.RawMessage(data), nil
}
