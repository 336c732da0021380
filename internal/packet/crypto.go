package packet

//
// Crypto records for the transport: cipher and MAC registries, the
// per-direction state, and the current/next rotation pair.
//

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"fmt"
	"hash"

	"github.com/ooni/minissh/internal/bytesx"
	"github.com/ooni/minissh/internal/runtimex"
) //#nosec G505
//  We know that sha1 is aging, but we do not control the ssh protocol.

// Algorithms is the set of algorithm names chosen by the negotiation,
// one per direction where the protocol negotiates per direction.
type Algorithms struct {
	Kex                       string
	HostKey                   string
	CipherClientToServer      string
	CipherServerToClient      string
	MACClientToServer         string
	MACServerToClient         string
	CompressionClientToServer string
	CompressionServerToClient string
}

// KeyMaterial is the output of the key derivation function: initial
// vectors, encryption keys and integrity keys for both directions.
type KeyMaterial struct {
	IVClientToServer  []byte
	IVServerToClient  []byte
	KeyClientToServer []byte
	KeyServerToClient []byte
	MACClientToServer []byte
	MACServerToClient []byte
}

// Burn zeroizes all the derived key material.
func (km *KeyMaterial) Burn() {
	bytesx.Burn(km.IVClientToServer)
	bytesx.Burn(km.IVServerToClient)
	bytesx.Burn(km.KeyClientToServer)
	bytesx.Burn(km.KeyServerToClient)
	bytesx.Burn(km.MACClientToServer)
	bytesx.Burn(km.MACServerToClient)
}

// cipherSpec describes a stream cipher we support.
type cipherSpec struct {
	// keySize is the size of the encryption key in bytes.
	keySize int

	// ivSize is the size of the initial vector in bytes.
	ivSize int

	// blockSize is the cipher block size used for padding alignment.
	blockSize int

	// factory creates the keystream.
	factory func(key, iv []byte) (cipher.Stream, error)
}

func newAESCTR(key, iv []byte) (cipher.Stream, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewCTR(block, iv), nil
}

// ciphers is the registry of stream ciphers we implement.
var ciphers = map[string]*cipherSpec{
	"aes128-ctr": {keySize: 16, ivSize: 16, blockSize: 16, factory: newAESCTR},
	"aes192-ctr": {keySize: 24, ivSize: 16, blockSize: 16, factory: newAESCTR},
	"aes256-ctr": {keySize: 32, ivSize: 16, blockSize: 16, factory: newAESCTR},
}

// macSpec describes a MAC algorithm we support.
type macSpec struct {
	// keySize is the size of the integrity key in bytes.
	keySize int

	// size is the size of the digest in bytes.
	size int

	// factory creates the keyed MAC.
	factory func(key []byte) hash.Hash
}

// macs is the registry of MAC algorithms we implement.
var macs = map[string]*macSpec{
	"hmac-sha1":     {keySize: 20, size: 20, factory: func(key []byte) hash.Hash { return hmac.New(sha1.New, key) }},
	"hmac-sha2-256": {keySize: 32, size: 32, factory: func(key []byte) hash.Hash { return hmac.New(sha256.New, key) }},
}

// KeySizes returns the iv, cipher key and MAC key sizes required to
// instantiate the given cipher and MAC names. The key derivation
// function needs these before the crypto record can be built.
func KeySizes(cipherName, macName string) (ivSize, keySize, macKeySize int, err error) {
	c, ok := ciphers[cipherName]
	if !ok {
		return 0, 0, 0, fmt.Errorf("%w: %s", ErrUnsupportedAlgo, cipherName)
	}
	m, ok := macs[macName]
	if !ok {
		return 0, 0, 0, fmt.Errorf("%w: %s", ErrUnsupportedAlgo, macName)
	}
	return c.ivSize, c.keySize, m.keySize, nil
}

// SupportedCiphers returns the cipher names we implement, in
// preference order.
func SupportedCiphers() []string {
	return []string{"aes128-ctr", "aes192-ctr", "aes256-ctr"}
}

// SupportedMACs returns the MAC names we implement, in preference order.
func SupportedMACs() []string {
	return []string{"hmac-sha2-256", "hmac-sha1"}
}

// directionState is the live crypto for one direction of the transport.
type directionState struct {
	// stream is the keystream used to encrypt or decrypt.
	stream cipher.Stream

	// macKey is the integrity key.
	macKey []byte

	// macFactory builds a fresh keyed MAC.
	macFactory func(key []byte) hash.Hash

	// macSize is the digest size in bytes.
	macSize int

	// blockSize is the padding alignment in bytes.
	blockSize int
}

// mac computes the integrity digest over the given sequence number and
// cleartext packet bytes.
func (ds *directionState) mac(seqnum uint32, clear []byte) []byte {
	mac := ds.macFactory(ds.macKey)
	var seqBuf [4]byte
	seqBuf[0] = byte(seqnum >> 24)
	seqBuf[1] = byte(seqnum >> 16)
	seqBuf[2] = byte(seqnum >> 8)
	seqBuf[3] = byte(seqnum)
	mac.Write(seqBuf[:])
	mac.Write(clear)
	return mac.Sum(nil)
}

// Crypto is the crypto record for the transport: the negotiated
// algorithm names plus the live per-direction state. The zero value is
// an empty record, which means cleartext.
type Crypto struct {
	// Algo is the set of negotiated algorithm names.
	Algo Algorithms

	// out is the client-to-server direction.
	out *directionState

	// in is the server-to-client direction.
	in *directionState

	// keys is retained so that Burn can zeroize it.
	keys *KeyMaterial
}

// NewCrypto builds a crypto record from the negotiated algorithms and
// the derived key material. Ownership of the key material moves into
// the returned record.
func NewCrypto(algo Algorithms, km *KeyMaterial) (*Crypto, error) {
	outSpec, ok := ciphers[algo.CipherClientToServer]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgo, algo.CipherClientToServer)
	}
	inSpec, ok := ciphers[algo.CipherServerToClient]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgo, algo.CipherServerToClient)
	}
	outMAC, ok := macs[algo.MACClientToServer]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgo, algo.MACClientToServer)
	}
	inMAC, ok := macs[algo.MACServerToClient]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgo, algo.MACServerToClient)
	}
	outStream, err := outSpec.factory(km.KeyClientToServer, km.IVClientToServer)
	if err != nil {
		return nil, err
	}
	inStream, err := inSpec.factory(km.KeyServerToClient, km.IVServerToClient)
	if err != nil {
		return nil, err
	}
	crypto := &Crypto{
		Algo: algo,
		out: &directionState{
			stream:     outStream,
			macKey:     km.MACClientToServer,
			macFactory: outMAC.factory,
			macSize:    outMAC.size,
			blockSize:  outSpec.blockSize,
		},
		in: &directionState{
			stream:     inStream,
			macKey:     km.MACServerToClient,
			macFactory: inMAC.factory,
			macSize:    inMAC.size,
			blockSize:  inSpec.blockSize,
		},
		keys: km,
	}
	return crypto, nil
}

// Ready returns whether this record has live keys. An empty record is
// not ready and stands for cleartext.
func (c *Crypto) Ready() bool {
	return c != nil && c.out != nil && c.in != nil
}

// Burn zeroizes the key material owned by this record.
func (c *Crypto) Burn() {
	if c == nil {
		return
	}
	if c.keys != nil {
		c.keys.Burn()
	}
	if c.out != nil {
		bytesx.Burn(c.out.macKey)
	}
	if c.in != nil {
		bytesx.Burn(c.in.macKey)
	}
}

// CryptoPair holds the crypto that is live and the crypto that is
// under construction. The swap at the NEWKEYS boundary is the single
// rotation operation, never two independent assignments.
type CryptoPair struct {
	current *Crypto
	next    *Crypto
}

// NewCryptoPair returns a pair where the current crypto is empty, that
// is cleartext, and the next crypto is freshly allocated.
func NewCryptoPair() *CryptoPair {
	return &CryptoPair{
		current: &Crypto{},
		next:    &Crypto{},
	}
}

// Current returns the live crypto record.
func (p *CryptoPair) Current() *Crypto {
	return p.current
}

// Next returns the crypto record under construction.
func (p *CryptoPair) Next() *Crypto {
	return p.next
}

// SetNext installs a fully built crypto record as the next crypto.
func (p *CryptoPair) SetNext(c *Crypto) {
	runtimex.PanicIfTrue(c == nil, "SetNext passed a nil crypto")
	p.next = c
}

// Rotate burns and discards the current crypto, makes the next crypto
// current, and allocates a fresh empty next record.
func (p *CryptoPair) Rotate() {
	p.current.Burn()
	p.current = p.next
	p.next = &Crypto{}
}
