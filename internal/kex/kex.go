// Package kex implements the algorithm negotiation and key exchange
// parts of the SSH transport, as described by RFC 4253 sections 7 to 9.
//
// Specifically we implement these operations:
//
// 1. building and parsing SSH_MSG_KEXINIT;
//
// 2. choosing the algorithm set from the client and server name-lists;
//
// 3. the Diffie-Hellman group1 and group14 exchanges and the
// curve25519-sha256 exchange;
//
// 4. the exchange hash, the session key derivation and the host key
// signature verification.
package kex

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ooni/minissh/internal/bytesx"
	"github.com/ooni/minissh/internal/packet"
)

var (
	// ErrMalformedKexInit indicates that a KEXINIT payload cannot be parsed.
	ErrMalformedKexInit = errors.New("malformed KEXINIT")

	// ErrNoCommonAlgo indicates an empty intersection between the
	// client and the server name-lists.
	ErrNoCommonAlgo = errors.New("no matching algorithm")

	// ErrUnsupportedKex indicates that the negotiated key exchange has
	// no local implementation.
	ErrUnsupportedKex = errors.New("unsupported key exchange")
)

// Key exchange algorithm names we implement.
const (
	KexCurve25519SHA256       = "curve25519-sha256"
	KexCurve25519SHA256LibSSH = "curve25519-sha256@libssh.org"
	KexGroup14SHA256          = "diffie-hellman-group14-sha256"
	KexGroup14SHA1            = "diffie-hellman-group14-sha1"
	KexGroup1SHA1             = "diffie-hellman-group1-sha1"
)

// DefaultKexAlgos is the key exchange preference order.
var DefaultKexAlgos = []string{
	KexCurve25519SHA256,
	KexCurve25519SHA256LibSSH,
	KexGroup14SHA256,
	KexGroup14SHA1,
	KexGroup1SHA1,
}

// DefaultHostKeyAlgos is the host key preference order.
var DefaultHostKeyAlgos = []string{
	"ssh-ed25519",
	"rsa-sha2-256",
	"ssh-rsa",
}

// cookieSize is the size of the KEXINIT random cookie.
const cookieSize = 16

// KexInit is the parsed form of a SSH_MSG_KEXINIT message.
type KexInit struct {
	// Cookie is the random cookie.
	Cookie [cookieSize]byte

	// KexAlgos is the key exchange name-list.
	KexAlgos []string

	// HostKeyAlgos is the server host key name-list.
	HostKeyAlgos []string

	// CiphersClientToServer and CiphersServerToClient are the
	// encryption name-lists.
	CiphersClientToServer []string
	CiphersServerToClient []string

	// MACsClientToServer and MACsServerToClient are the MAC name-lists.
	MACsClientToServer []string
	MACsServerToClient []string

	// CompressionClientToServer and CompressionServerToClient are the
	// compression name-lists.
	CompressionClientToServer []string
	CompressionServerToClient []string

	// LanguagesClientToServer and LanguagesServerToClient are the
	// language name-lists, normally empty.
	LanguagesClientToServer []string
	LanguagesServerToClient []string

	// FirstKexPacketFollows tells whether the peer sent a guessed kex
	// packet right after KEXINIT.
	FirstKexPacketFollows bool
}

// Preferences are the local algorithm preferences used to build the
// client KEXINIT.
type Preferences struct {
	KexAlgos     []string
	HostKeyAlgos []string
	Ciphers      []string
	MACs         []string
}

// NewPreferences returns the default local algorithm preferences.
func NewPreferences() *Preferences {
	return &Preferences{
		KexAlgos:     DefaultKexAlgos,
		HostKeyAlgos: DefaultHostKeyAlgos,
		Ciphers:      packet.SupportedCiphers(),
		MACs:         packet.SupportedMACs(),
	}
}

// randomFn mocks the random number generator in tests.
var randomFn = bytesx.GenRandomBytes

// NewKexInit builds a client KEXINIT from the given preferences, using
// a fresh random cookie.
func NewKexInit(pref *Preferences) (*KexInit, error) {
	cookie, err := randomFn(cookieSize)
	if err != nil {
		return nil, err
	}
	ki := &KexInit{
		KexAlgos:                  pref.KexAlgos,
		HostKeyAlgos:              pref.HostKeyAlgos,
		CiphersClientToServer:     pref.Ciphers,
		CiphersServerToClient:     pref.Ciphers,
		MACsClientToServer:        pref.MACs,
		MACsServerToClient:        pref.MACs,
		CompressionClientToServer: []string{"none"},
		CompressionServerToClient: []string{"none"},
		LanguagesClientToServer:   []string{},
		LanguagesServerToClient:   []string{},
	}
	copy(ki.Cookie[:], cookie)
	return ki, nil
}

// Marshal serializes the KEXINIT body, that is everything after the
// message code byte.
func (ki *KexInit) Marshal() ([]byte, error) {
	buf := &bytes.Buffer{}
	buf.Write(ki.Cookie[:])
	lists := [][]string{
		ki.KexAlgos,
		ki.HostKeyAlgos,
		ki.CiphersClientToServer,
		ki.CiphersServerToClient,
		ki.MACsClientToServer,
		ki.MACsServerToClient,
		ki.CompressionClientToServer,
		ki.CompressionServerToClient,
		ki.LanguagesClientToServer,
		ki.LanguagesServerToClient,
	}
	for _, list := range lists {
		if err := bytesx.WriteNameList(buf, list); err != nil {
			return nil, err
		}
	}
	follows := byte(0)
	if ki.FirstKexPacketFollows {
		follows = 1
	}
	bytesx.WriteUint8(buf, follows)
	bytesx.WriteUint32(buf, 0) // reserved
	return buf.Bytes(), nil
}

// ParseKexInit parses the KEXINIT body, that is everything after the
// message code byte.
func ParseKexInit(payload []byte) (*KexInit, error) {
	buf := bytes.NewBuffer(payload)
	ki := &KexInit{}
	var cookie [cookieSize]byte
	if n, err := buf.Read(cookie[:]); err != nil || n != cookieSize {
		return nil, fmt.Errorf("%w: %s", ErrMalformedKexInit, "short cookie")
	}
	ki.Cookie = cookie
	targets := []*[]string{
		&ki.KexAlgos,
		&ki.HostKeyAlgos,
		&ki.CiphersClientToServer,
		&ki.CiphersServerToClient,
		&ki.MACsClientToServer,
		&ki.MACsServerToClient,
		&ki.CompressionClientToServer,
		&ki.CompressionServerToClient,
		&ki.LanguagesClientToServer,
		&ki.LanguagesServerToClient,
	}
	for _, target := range targets {
		list, err := bytesx.ReadNameList(buf)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrMalformedKexInit, err)
		}
		*target = list
	}
	follows, err := bytesx.ReadUint8(buf)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedKexInit, "missing first-kex-packet-follows")
	}
	ki.FirstKexPacketFollows = follows != 0
	if _, err := bytesx.ReadUint32(buf); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedKexInit, "missing reserved field")
	}
	return ki, nil
}

// chooseFirstMatch returns the first client name that also appears in
// the server list.
func chooseFirstMatch(what string, client, server []string) (string, error) {
	for _, c := range client {
		for _, s := range server {
			if c == s {
				return c, nil
			}
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNoCommonAlgo, what)
}

// Negotiate chooses the algorithm set from the client and the server
// KEXINIT. For each slot it picks the first client algorithm that also
// appears in the server's list; the choice is a deterministic function
// of the two name-lists.
func Negotiate(client, server *KexInit) (packet.Algorithms, error) {
	var (
		algo packet.Algorithms
		err  error
	)
	if algo.Kex, err = chooseFirstMatch("kex", client.KexAlgos, server.KexAlgos); err != nil {
		return algo, err
	}
	if algo.HostKey, err = chooseFirstMatch("host key", client.HostKeyAlgos, server.HostKeyAlgos); err != nil {
		return algo, err
	}
	if algo.CipherClientToServer, err = chooseFirstMatch("cipher client to server",
		client.CiphersClientToServer, server.CiphersClientToServer); err != nil {
		return algo, err
	}
	if algo.CipherServerToClient, err = chooseFirstMatch("cipher server to client",
		client.CiphersServerToClient, server.CiphersServerToClient); err != nil {
		return algo, err
	}
	if algo.MACClientToServer, err = chooseFirstMatch("mac client to server",
		client.MACsClientToServer, server.MACsClientToServer); err != nil {
		return algo, err
	}
	if algo.MACServerToClient, err = chooseFirstMatch("mac server to client",
		client.MACsServerToClient, server.MACsServerToClient); err != nil {
		return algo, err
	}
	if algo.CompressionClientToServer, err = chooseFirstMatch("compression client to server",
		client.CompressionClientToServer, server.CompressionClientToServer); err != nil {
		return algo, err
	}
	if algo.CompressionServerToClient, err = chooseFirstMatch("compression server to client",
		client.CompressionServerToClient, server.CompressionServerToClient); err != nil {
		return algo, err
	}
	return algo, nil
}
