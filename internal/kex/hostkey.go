package kex

//
// Host key parsing and signature verification over the exchange hash.
//

import (
	"bytes"
	"crypto"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/ooni/minissh/internal/bytesx"
) //#nosec G505
//  We know that sha1 is aging, but we do not control the ssh protocol.

var (
	// ErrUnsupportedHostKey indicates that the host key type has no
	// local implementation.
	ErrUnsupportedHostKey = errors.New("unsupported host key type")

	// ErrMalformedHostKey indicates that a host key blob cannot be parsed.
	ErrMalformedHostKey = errors.New("malformed host key")

	// ErrMalformedSignature indicates that a signature blob cannot be parsed.
	ErrMalformedSignature = errors.New("malformed signature")

	// ErrSignature indicates that the host signature does not verify.
	ErrSignature = errors.New("host signature verification failed")
)

// parseRSAHostKey parses a ssh-rsa public key blob.
func parseRSAHostKey(blob []byte) (*rsa.PublicKey, error) {
	buf := bytes.NewBuffer(blob)
	keyType, err := bytesx.ReadString(buf)
	if err != nil || string(keyType) != "ssh-rsa" {
		return nil, fmt.Errorf("%w: %s", ErrMalformedHostKey, "not a ssh-rsa blob")
	}
	e, err := bytesx.ReadBigInt(buf)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedHostKey, err)
	}
	n, err := bytesx.ReadBigInt(buf)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedHostKey, err)
	}
	if !e.IsInt64() || e.Int64() <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrMalformedHostKey, "bad public exponent")
	}
	return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
}

// parseEd25519HostKey parses a ssh-ed25519 public key blob.
func parseEd25519HostKey(blob []byte) (ed25519.PublicKey, error) {
	buf := bytes.NewBuffer(blob)
	keyType, err := bytesx.ReadString(buf)
	if err != nil || string(keyType) != "ssh-ed25519" {
		return nil, fmt.Errorf("%w: %s", ErrMalformedHostKey, "not a ssh-ed25519 blob")
	}
	key, err := bytesx.ReadString(buf)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedHostKey, err)
	}
	if len(key) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: %s", ErrMalformedHostKey, "bad key size")
	}
	return ed25519.PublicKey(key), nil
}

// parseSignature parses a signature blob into its algorithm name and
// raw signature bytes.
func parseSignature(blob []byte) (string, []byte, error) {
	buf := bytes.NewBuffer(blob)
	name, err := bytesx.ReadString(buf)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %s", ErrMalformedSignature, err)
	}
	sig, err := bytesx.ReadString(buf)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %s", ErrMalformedSignature, err)
	}
	return string(name), sig, nil
}

// VerifyHostKeySignature verifies the server signature over the
// exchange hash using the host key blob, according to the negotiated
// host key algorithm. It must be called before the new crypto becomes
// current.
func VerifyHostKeySignature(hostKeyAlgo string, hostKey, signature, exchangeHash []byte) error {
	sigAlgo, sig, err := parseSignature(signature)
	if err != nil {
		return err
	}
	switch hostKeyAlgo {
	case "ssh-rsa", "rsa-sha2-256":
		pub, err := parseRSAHostKey(hostKey)
		if err != nil {
			return err
		}
		switch sigAlgo {
		case "ssh-rsa":
			digest := sha1.Sum(exchangeHash) //#nosec G401
			if err := rsa.VerifyPKCS1v15(pub, crypto.SHA1, digest[:], sig); err != nil {
				return fmt.Errorf("%w: %s", ErrSignature, err)
			}
		case "rsa-sha2-256":
			digest := sha256.Sum256(exchangeHash)
			if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], sig); err != nil {
				return fmt.Errorf("%w: %s", ErrSignature, err)
			}
		default:
			return fmt.Errorf("%w: signature algorithm %s", ErrUnsupportedHostKey, sigAlgo)
		}
		return nil
	case "ssh-ed25519":
		pub, err := parseEd25519HostKey(hostKey)
		if err != nil {
			return err
		}
		if sigAlgo != "ssh-ed25519" {
			return fmt.Errorf("%w: signature algorithm %s", ErrUnsupportedHostKey, sigAlgo)
		}
		if !ed25519.Verify(pub, exchangeHash, sig) {
			return ErrSignature
		}
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedHostKey, hostKeyAlgo)
	}
}
