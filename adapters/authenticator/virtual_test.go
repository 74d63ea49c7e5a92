package authenticator

import (
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/myeganeh2876/MomentumPasskeyTest/adapters/store"
	"github.com/myeganeh2876/MomentumPasskeyTest/core"
)

const testOrigin = "https://app.example.com"

func registrationChallenge(rpID string) core.RegistrationChallenge {
	var opts protocol.PublicKeyCredentialCreationOptions
	opts.RelyingParty.ID = rpID
	opts.RelyingParty.Name = "Example"
	opts.User.ID = base64.RawURLEncoding.EncodeToString([]byte("user-1"))
	opts.User.Name = "+15550001111"
	opts.User.DisplayName = "Test User"
	opts.Challenge = []byte("registration-challenge")
	return core.RegistrationChallenge{Options: opts}
}

func authenticationChallenge(rpID string, allow ...string) core.AuthenticationChallenge {
	var opts protocol.PublicKeyCredentialRequestOptions
	opts.RelyingPartyID = rpID
	opts.Challenge = []byte("authentication-challenge")
	for _, id := range allow {
		raw, _ := base64.RawURLEncoding.DecodeString(id)
		opts.AllowedCredentials = append(opts.AllowedCredentials, protocol.CredentialDescriptor{
			Type:         protocol.PublicKeyCredentialType,
			CredentialID: raw,
		})
	}
	return core.AuthenticationChallenge{Options: opts}
}

func TestVirtual_CreateProducesNoneAttestation(t *testing.T) {
	v := NewVirtual(testOrigin, store.NewMemoryStore())

	att, err := v.Create(context.Background(), registrationChallenge("example.com"))
	require.NoError(t, err)

	assert.Equal(t, base64.RawURLEncoding.EncodeToString(att.RawID), att.CredentialID)
	assert.Len(t, att.RawID, credentialIDBytes)

	var cd clientData
	require.NoError(t, json.Unmarshal(att.ClientDataJSON, &cd))
	assert.Equal(t, "webauthn.create", cd.Type)
	assert.Equal(t, testOrigin, cd.Origin)
	assert.Equal(t, base64.RawURLEncoding.EncodeToString([]byte("registration-challenge")), cd.Challenge)

	var obj attestationObject
	require.NoError(t, cbor.Unmarshal(att.AttestationObject, &obj))
	assert.Equal(t, "none", obj.Fmt)
	assert.Empty(t, obj.AttStmt)

	rpHash := sha256.Sum256([]byte("example.com"))
	assert.Equal(t, rpHash[:], obj.AuthData[:32])
	assert.Equal(t, flagUserPresent|flagUserVerified|flagAttestedData, obj.AuthData[32])
	assert.Equal(t, uint32(0), binary.BigEndian.Uint32(obj.AuthData[33:37]))

	idLen := int(binary.BigEndian.Uint16(obj.AuthData[53:55]))
	require.Equal(t, credentialIDBytes, idLen)
	assert.Equal(t, att.RawID, obj.AuthData[55:55+idLen])

	var key map[int]any
	require.NoError(t, cbor.Unmarshal(obj.AuthData[55+idLen:], &key))
	assert.EqualValues(t, 2, key[1])
	assert.EqualValues(t, -7, key[3])
	assert.EqualValues(t, 1, key[-1])
	assert.Len(t, key[-2], 32)
	assert.Len(t, key[-3], 32)
}

func TestVirtual_GetSignsAssertion(t *testing.T) {
	ctx := context.Background()
	keyring := store.NewMemoryStore()
	v := NewVirtual(testOrigin, keyring)

	att, err := v.Create(ctx, registrationChallenge("example.com"))
	require.NoError(t, err)

	first, err := v.Get(ctx, authenticationChallenge("example.com", att.CredentialID))
	require.NoError(t, err)
	assert.Equal(t, att.CredentialID, first.CredentialID)
	assert.Equal(t, []byte("user-1"), first.UserHandle)
	assert.Equal(t, uint32(1), binary.BigEndian.Uint32(first.AuthenticatorData[33:37]))
	assert.Equal(t, flagUserPresent|flagUserVerified, first.AuthenticatorData[32])

	var cd clientData
	require.NoError(t, json.Unmarshal(first.ClientDataJSON, &cd))
	assert.Equal(t, "webauthn.get", cd.Type)

	stored, err := v.load(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	priv, err := parseKey(stored[0].PrivateKey)
	require.NoError(t, err)

	clientHash := sha256.Sum256(first.ClientDataJSON)
	digest := sha256.Sum256(append(append([]byte{}, first.AuthenticatorData...), clientHash[:]...))
	assert.True(t, ecdsa.VerifyASN1(&priv.PublicKey, digest[:], first.Signature))

	second, err := v.Get(ctx, authenticationChallenge("example.com"))
	require.NoError(t, err)
	assert.Equal(t, uint32(2), binary.BigEndian.Uint32(second.AuthenticatorData[33:37]))
}

func TestVirtual_KeyringSurvivesNewInstance(t *testing.T) {
	ctx := context.Background()
	keyring := store.NewMemoryStore()

	att, err := NewVirtual(testOrigin, keyring).Create(ctx, registrationChallenge("example.com"))
	require.NoError(t, err)

	assertion, err := NewVirtual(testOrigin, keyring).Get(ctx, authenticationChallenge("example.com"))
	require.NoError(t, err)
	assert.Equal(t, att.CredentialID, assertion.CredentialID)
}

func TestVirtual_RPIDFallsBackToOriginHost(t *testing.T) {
	ctx := context.Background()
	v := NewVirtual(testOrigin, store.NewMemoryStore())

	_, err := v.Create(ctx, registrationChallenge(""))
	require.NoError(t, err)

	stored, err := v.load(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "app.example.com", stored[0].RPID)

	_, err = v.Get(ctx, authenticationChallenge("other.example"))
	assert.ErrorIs(t, err, core.ErrCeremonyTimedOut)
}

func TestVirtual_Failures(t *testing.T) {
	ctx := context.Background()

	t.Run("declined", func(t *testing.T) {
		v := NewVirtual(testOrigin, store.NewMemoryStore(), WithPresence(func(context.Context, core.CeremonyKind, string) error {
			return errors.New("user said no")
		}))
		_, err := v.Create(ctx, registrationChallenge("example.com"))
		assert.ErrorIs(t, err, core.ErrCeremonyDeclined)
	})

	t.Run("presence error kept", func(t *testing.T) {
		v := NewVirtual(testOrigin, store.NewMemoryStore(), WithPresence(func(context.Context, core.CeremonyKind, string) error {
			return core.ErrCeremonyAborted
		}))
		_, err := v.Create(ctx, registrationChallenge("example.com"))
		assert.ErrorIs(t, err, core.ErrCeremonyAborted)
		assert.NotErrorIs(t, err, core.ErrCeremonyDeclined)
	})

	t.Run("excluded credential", func(t *testing.T) {
		v := NewVirtual(testOrigin, store.NewMemoryStore())
		att, err := v.Create(ctx, registrationChallenge("example.com"))
		require.NoError(t, err)

		challenge := registrationChallenge("example.com")
		challenge.Options.CredentialExcludeList = []protocol.CredentialDescriptor{{
			Type:         protocol.PublicKeyCredentialType,
			CredentialID: att.RawID,
		}}
		_, err = v.Create(ctx, challenge)
		assert.ErrorIs(t, err, core.ErrCeremonyAborted)
	})

	t.Run("no credential", func(t *testing.T) {
		v := NewVirtual(testOrigin, store.NewMemoryStore())
		_, err := v.Get(ctx, authenticationChallenge("example.com"))
		assert.ErrorIs(t, err, core.ErrCeremonyTimedOut)
	})

	t.Run("not allowed", func(t *testing.T) {
		v := NewVirtual(testOrigin, store.NewMemoryStore())
		_, err := v.Create(ctx, registrationChallenge("example.com"))
		require.NoError(t, err)
		_, err = v.Get(ctx, authenticationChallenge("example.com", base64.RawURLEncoding.EncodeToString([]byte("unknown"))))
		assert.ErrorIs(t, err, core.ErrCeremonyTimedOut)
	})

	t.Run("deadline", func(t *testing.T) {
		v := NewVirtual(testOrigin, store.NewMemoryStore(), WithPresence(func(ctx context.Context, _ core.CeremonyKind, _ string) error {
			<-ctx.Done()
			return ctx.Err()
		}))
		deadline, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
		defer cancel()
		_, err := v.Create(deadline, registrationChallenge("example.com"))
		assert.ErrorIs(t, err, core.ErrCeremonyTimedOut)
	})

	t.Run("canceled", func(t *testing.T) {
		v := NewVirtual(testOrigin, store.NewMemoryStore())
		canceled, cancel := context.WithCancel(ctx)
		cancel()
		_, err := v.Create(canceled, registrationChallenge("example.com"))
		assert.ErrorIs(t, err, core.ErrCeremonyAborted)
	})

	t.Run("missing user id", func(t *testing.T) {
		v := NewVirtual(testOrigin, store.NewMemoryStore())
		challenge := registrationChallenge("example.com")
		challenge.Options.User.ID = nil
		_, err := v.Create(ctx, challenge)
		assert.ErrorIs(t, err, core.ErrCeremonyAborted)
	})
}
