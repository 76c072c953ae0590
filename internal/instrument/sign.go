package instrument

import (
	"bytes"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"

	"github.com/blacktop/ilcov/internal/support"
	"github.com/blacktop/ilcov/pkg/il"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// StrongNameKey is a strong name key pair.
type StrongNameKey struct {
	key *rsa.PrivateKey
}

// LoadStrongNameKey reads a PEM encoded PKCS#1 or PKCS#8 RSA private key.
func LoadStrongNameKey(fs afero.Fs, path string) (*StrongNameKey, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, err
	}
	return ParseStrongNameKey(data)
}

// ParseStrongNameKey parses a PEM encoded PKCS#1 or PKCS#8 RSA private key.
func ParseStrongNameKey(data []byte) (*StrongNameKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block in key file")
	}
	if k, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return &StrongNameKey{key: k}, nil
	}
	k, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse key")
	}
	rk, ok := k.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.Errorf("unsupported key type %T", k)
	}
	return &StrongNameKey{key: rk}, nil
}

// PublicKey returns the DER encoded public key stored in a signed assembly's identity.
func (k *StrongNameKey) PublicKey() ([]byte, error) {
	return x509.MarshalPKIXPublicKey(&k.key.PublicKey)
}

// Sign is an il.Signer.
func (k *StrongNameKey) Sign(content []byte) ([]byte, error) {
	digest := sha256.Sum256(content)
	return rsa.SignPKCS1v15(rand.Reader, k.key, crypto.SHA256, digest[:])
}

// VerifySignature checks an encoded module's signature against its own public key.
func VerifySignature(image []byte, publicKey []byte) error {
	content, sig, err := il.SplitSignature(image)
	if err != nil {
		return err
	}
	if len(sig) == 0 {
		return errors.New("module is not signed")
	}
	pub, err := x509.ParsePKIXPublicKey(publicKey)
	if err != nil {
		return errors.Wrap(err, "invalid public key")
	}
	rpub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return errors.Errorf("unsupported public key type %T", pub)
	}
	digest := sha256.Sum256(content)
	return rsa.VerifyPKCS1v15(rpub, crypto.SHA256, digest[:], sig)
}

// signer applies the signing policy: a module with a public key is signed with the
// configured key; without one, a net461 target or a module exposing internals cannot be
// rewritten.
func (p *Processor) signer(target support.Target) (il.Signer, error) {
	m := p.module
	if !m.Signed() {
		return nil, nil
	}
	p.log.Debug("module is signed")

	if path := p.conf.KeyFile; path != "" {
		if ok, _ := afero.Exists(p.s.Fs, path); ok {
			key, err := LoadStrongNameKey(p.s.Fs, path)
			if err != nil {
				return nil, errors.Wrapf(err, "failed to load signing key %s", path)
			}
			pub, err := key.PublicKey()
			if err != nil {
				return nil, err
			}
			if !bytes.Equal(pub, m.Assembly.PublicKey) {
				return nil, errors.Errorf("signing key %s does not match the public key of %s", path, m.Assembly.Name)
			}
			p.log.Debugf("%s loaded", path)
			return key.Sign, nil
		}
	}
	switch {
	case target == support.Net461:
		return nil, &SigningKeyRequiredError{Path: p.path, Reason: "is a net461 signed assembly"}
	case hasInternalsVisibleTo(m):
		return nil, &SigningKeyRequiredError{Path: p.path, Reason: "is a signed assembly with the InternalsVisibleTo attribute"}
	}
	return nil, nil
}
