// Package authenticator provides a software WebAuthn authenticator.
//
// Virtual produces ES256 credentials with "none" attestation and keeps its
// keys in a ports.Store. It stands in for the platform ceremony on headless
// clients and in tests.
package authenticator

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/go-webauthn/webauthn/protocol"
	"go.uber.org/zap"

	"github.com/myeganeh2876/MomentumPasskeyTest/core"
	"github.com/myeganeh2876/MomentumPasskeyTest/ports"
)

const keyringKey = "virtual_authenticator_credentials"

// Authenticator data flags
const (
	flagUserPresent   byte = 0x01
	flagUserVerified  byte = 0x04
	flagAttestedData  byte = 0x40
	credentialIDBytes      = 32
)

// PresenceFunc asks the user to approve a ceremony. Returning an error wrapping
// core.ErrCeremonyDeclined rejects it.
type PresenceFunc func(ctx context.Context, kind core.CeremonyKind, rpID string) error

// Virtual is a software authenticator
type Virtual struct {
	origin   string
	store    ports.Store
	presence PresenceFunc
	logger   *zap.Logger
	mu       sync.Mutex
}

// Option configures a Virtual authenticator
type Option func(*Virtual)

// WithPresence sets the user-presence prompt; the default approves every ceremony
func WithPresence(fn PresenceFunc) Option {
	return func(v *Virtual) { v.presence = fn }
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(v *Virtual) { v.logger = logger }
}

// NewVirtual creates an authenticator answering for origin
func NewVirtual(origin string, store ports.Store, opts ...Option) *Virtual {
	v := &Virtual{
		origin: origin,
		store:  store,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

var _ ports.Authenticator = (*Virtual)(nil)

type storedCredential struct {
	ID         string `json:"id"`
	RPID       string `json:"rp_id"`
	UserHandle string `json:"user_handle"`
	UserName   string `json:"user_name,omitempty"`
	PrivateKey string `json:"private_key"`
	SignCount  uint32 `json:"sign_count"`
}

type clientData struct {
	Type        string `json:"type"`
	Challenge   string `json:"challenge"`
	Origin      string `json:"origin"`
	CrossOrigin bool   `json:"crossOrigin"`
}

type attestationObject struct {
	Fmt      string         `cbor:"fmt"`
	AttStmt  map[string]any `cbor:"attStmt"`
	AuthData []byte         `cbor:"authData"`
}

// Create runs a registration ceremony
func (v *Virtual) Create(ctx context.Context, challenge core.RegistrationChallenge) (core.Attestation, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	opts := challenge.Options
	rpID := opts.RelyingParty.ID
	if rpID == "" {
		rpID = v.originHost()
	}

	userHandle, err := decodeUserID(opts.User.ID)
	if err != nil {
		return core.Attestation{}, fmt.Errorf("%w: %w", core.ErrCeremonyAborted, err)
	}

	credentials, err := v.load(ctx)
	if err != nil {
		return core.Attestation{}, fmt.Errorf("%w: %w", core.ErrCeremonyAborted, err)
	}
	for _, excluded := range opts.CredentialExcludeList {
		id := encode(excluded.CredentialID)
		for _, c := range credentials {
			if c.ID == id && c.RPID == rpID {
				return core.Attestation{}, fmt.Errorf("%w: credential already registered for %s", core.ErrCeremonyAborted, rpID)
			}
		}
	}

	if err := v.confirm(ctx, core.CeremonyRegistration, rpID); err != nil {
		return core.Attestation{}, err
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return core.Attestation{}, fmt.Errorf("%w: generate key: %w", core.ErrCeremonyAborted, err)
	}
	credentialID := make([]byte, credentialIDBytes)
	if _, err := rand.Read(credentialID); err != nil {
		return core.Attestation{}, fmt.Errorf("%w: generate credential id: %w", core.ErrCeremonyAborted, err)
	}

	cose, err := coseKey(key)
	if err != nil {
		return core.Attestation{}, fmt.Errorf("%w: %w", core.ErrCeremonyAborted, err)
	}

	authData := authenticatorData(rpID, flagUserPresent|flagUserVerified|flagAttestedData, 0)
	authData = append(authData, make([]byte, 16)...) // AAGUID
	authData = binary.BigEndian.AppendUint16(authData, uint16(len(credentialID)))
	authData = append(authData, credentialID...)
	authData = append(authData, cose...)

	attObj, err := marshalCBOR(attestationObject{
		Fmt:      "none",
		AttStmt:  map[string]any{},
		AuthData: authData,
	})
	if err != nil {
		return core.Attestation{}, fmt.Errorf("%w: encode attestation: %w", core.ErrCeremonyAborted, err)
	}

	cdj, err := v.clientData("webauthn.create", opts.Challenge)
	if err != nil {
		return core.Attestation{}, err
	}

	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return core.Attestation{}, fmt.Errorf("%w: encode key: %w", core.ErrCeremonyAborted, err)
	}
	credentials = append(credentials, storedCredential{
		ID:         encode(credentialID),
		RPID:       rpID,
		UserHandle: encode(userHandle),
		UserName:   opts.User.Name,
		PrivateKey: base64.StdEncoding.EncodeToString(der),
	})
	if err := v.save(ctx, credentials); err != nil {
		return core.Attestation{}, fmt.Errorf("%w: %w", core.ErrCeremonyAborted, err)
	}

	v.logger.Debug("virtual authenticator created credential",
		zap.String("rp_id", rpID), zap.String("credential_id", encode(credentialID)))

	return core.Attestation{
		CredentialID:      encode(credentialID),
		RawID:             credentialID,
		ClientDataJSON:    cdj,
		AttestationObject: attObj,
	}, nil
}

// Get runs an authentication ceremony
func (v *Virtual) Get(ctx context.Context, challenge core.AuthenticationChallenge) (core.Assertion, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	opts := challenge.Options
	rpID := opts.RelyingPartyID
	if rpID == "" {
		rpID = v.originHost()
	}

	credentials, err := v.load(ctx)
	if err != nil {
		return core.Assertion{}, fmt.Errorf("%w: %w", core.ErrCeremonyAborted, err)
	}
	index := -1
	for i, c := range credentials {
		if c.RPID == rpID && allowed(c.ID, opts.AllowedCredentials) {
			index = i
			break
		}
	}
	if index < 0 {
		// Browsers report this as NotAllowedError.
		return core.Assertion{}, fmt.Errorf("%w: no credential for %s", core.ErrCeremonyTimedOut, rpID)
	}

	if err := v.confirm(ctx, core.CeremonyAuthentication, rpID); err != nil {
		return core.Assertion{}, err
	}

	credential := credentials[index]
	key, err := parseKey(credential.PrivateKey)
	if err != nil {
		return core.Assertion{}, fmt.Errorf("%w: %w", core.ErrCeremonyAborted, err)
	}
	credential.SignCount++

	authData := authenticatorData(rpID, flagUserPresent|flagUserVerified, credential.SignCount)
	cdj, err := v.clientData("webauthn.get", opts.Challenge)
	if err != nil {
		return core.Assertion{}, err
	}
	clientHash := sha256.Sum256(cdj)
	digest := sha256.Sum256(append(append([]byte{}, authData...), clientHash[:]...))
	signature, err := ecdsa.SignASN1(rand.Reader, key, digest[:])
	if err != nil {
		return core.Assertion{}, fmt.Errorf("%w: sign: %w", core.ErrCeremonyAborted, err)
	}

	credentials[index] = credential
	if err := v.save(ctx, credentials); err != nil {
		return core.Assertion{}, fmt.Errorf("%w: %w", core.ErrCeremonyAborted, err)
	}

	rawID, err := base64.RawURLEncoding.DecodeString(credential.ID)
	if err != nil {
		return core.Assertion{}, fmt.Errorf("%w: %w", core.ErrCeremonyAborted, err)
	}
	userHandle, err := base64.RawURLEncoding.DecodeString(credential.UserHandle)
	if err != nil {
		return core.Assertion{}, fmt.Errorf("%w: %w", core.ErrCeremonyAborted, err)
	}

	return core.Assertion{
		CredentialID:      credential.ID,
		RawID:             rawID,
		ClientDataJSON:    cdj,
		AuthenticatorData: authData,
		Signature:         signature,
		UserHandle:        userHandle,
	}, nil
}

// confirm asks for user presence and maps cancellation to ceremony reasons
func (v *Virtual) confirm(ctx context.Context, kind core.CeremonyKind, rpID string) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	if v.presence != nil {
		if err := v.presence(ctx, kind, rpID); err != nil {
			if errors.Is(err, core.ErrCeremonyDeclined) || errors.Is(err, core.ErrCeremonyTimedOut) || errors.Is(err, core.ErrCeremonyAborted) {
				return err
			}
			if ctxErr := ctxErr(ctx); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("%w: %w", core.ErrCeremonyDeclined, err)
		}
	}
	return ctxErr(ctx)
}

func ctxErr(ctx context.Context) error {
	switch err := ctx.Err(); {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", core.ErrCeremonyTimedOut, err)
	case err != nil:
		return fmt.Errorf("%w: %w", core.ErrCeremonyAborted, err)
	}
	return nil
}

func (v *Virtual) clientData(ceremonyType string, challenge protocol.URLEncodedBase64) ([]byte, error) {
	data, err := json.Marshal(clientData{
		Type:      ceremonyType,
		Challenge: encode(challenge),
		Origin:    v.origin,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: encode client data: %w", core.ErrCeremonyAborted, err)
	}
	return data, nil
}

func (v *Virtual) originHost() string {
	u, err := url.Parse(v.origin)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

func (v *Virtual) load(ctx context.Context) ([]storedCredential, error) {
	raw, err := v.store.Get(ctx, keyringKey)
	if errors.Is(err, core.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load keyring: %w", err)
	}
	var credentials []storedCredential
	if err := json.Unmarshal([]byte(raw), &credentials); err != nil {
		return nil, fmt.Errorf("decode keyring: %w", err)
	}
	return credentials, nil
}

func (v *Virtual) save(ctx context.Context, credentials []storedCredential) error {
	raw, err := json.Marshal(credentials)
	if err != nil {
		return fmt.Errorf("encode keyring: %w", err)
	}
	if err := v.store.Set(ctx, keyringKey, string(raw)); err != nil {
		return fmt.Errorf("save keyring: %w", err)
	}
	return nil
}

func authenticatorData(rpID string, flags byte, signCount uint32) []byte {
	rpHash := sha256.Sum256([]byte(rpID))
	data := make([]byte, 0, 37)
	data = append(data, rpHash[:]...)
	data = append(data, flags)
	return binary.BigEndian.AppendUint32(data, signCount)
}

// coseKey encodes an EC2 P-256 public key for ES256
func coseKey(key *ecdsa.PrivateKey) ([]byte, error) {
	pub, err := key.PublicKey.ECDH()
	if err != nil {
		return nil, fmt.Errorf("convert public key: %w", err)
	}
	point := pub.Bytes() // 0x04 || X || Y
	return marshalCBOR(map[int]any{
		1:  2,  // kty: EC2
		3:  -7, // alg: ES256
		-1: 1,  // crv: P-256
		-2: point[1:33],
		-3: point[33:65],
	})
}

func marshalCBOR(v any) ([]byte, error) {
	mode, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, err
	}
	return mode.Marshal(v)
}

func parseKey(encoded string) (*ecdsa.PrivateKey, error) {
	der, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode key: %w", err)
	}
	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("parse key: %w", err)
	}
	key, ok := parsed.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("stored key is not ECDSA")
	}
	return key, nil
}

func allowed(id string, list []protocol.CredentialDescriptor) bool {
	if len(list) == 0 {
		return true
	}
	for _, d := range list {
		if encode(d.CredentialID) == id {
			return true
		}
	}
	return false
}

// decodeUserID accepts the user.id shapes produced by JSON decoding of options
func decodeUserID(id any) ([]byte, error) {
	switch v := id.(type) {
	case string:
		return base64.RawURLEncoding.DecodeString(strings.TrimRight(v, "="))
	case []byte:
		return v, nil
	case protocol.URLEncodedBase64:
		return v, nil
	case nil:
		return nil, fmt.Errorf("options carry no user id")
	default:
		return nil, fmt.Errorf("unsupported user id type %T", id)
	}
}

func encode(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}
