package packet

//
// Encoding and decoding of binary packets.
//
// The decoder is incremental: bytes arrive in arbitrary chunks and the
// first cipher block of an encrypted packet is decrypted exactly once,
// when enough bytes are available, to learn the packet length.
//

import (
	"bytes"
	"crypto/hmac"
	"encoding/binary"
	"fmt"

	"github.com/ooni/minissh/internal/bytesx"
	"github.com/ooni/minissh/internal/model"
)

// Encoder serializes transport messages into wire packets using the
// current crypto of the given pair. It owns the outgoing sequence
// number, which keeps counting across the NEWKEYS boundary.
type Encoder struct {
	pair *CryptoPair
	seq  uint32
}

// NewEncoder returns an encoder writing with the given crypto pair.
func NewEncoder(pair *CryptoPair) *Encoder {
	return &Encoder{pair: pair}
}

// Sequence returns the sequence number of the next outgoing packet.
func (e *Encoder) Sequence() uint32 {
	return e.seq
}

// Encode serializes the given message payload as a wire packet. When
// the current crypto is ready the packet is encrypted and carries a
// MAC, otherwise it is sent in the clear.
func (e *Encoder) Encode(payload []byte) ([]byte, error) {
	crypto := e.pair.Current()
	blockSize := minBlockSize
	if crypto.Ready() && crypto.out.blockSize > blockSize {
		blockSize = crypto.out.blockSize
	}

	// The length field, the padding length byte and the payload must
	// align to the cipher block, with at least four bytes of padding.
	padSize := blockSize - (5+len(payload))%blockSize
	if padSize < minPaddingSize {
		padSize += blockSize
	}
	padding, err := bytesx.GenRandomBytes(padSize)
	if err != nil {
		return nil, err
	}

	buf := &bytes.Buffer{}
	bytesx.WriteUint32(buf, uint32(1+len(payload)+padSize))
	bytesx.WriteUint8(buf, uint8(padSize))
	buf.Write(payload)
	buf.Write(padding)

	wire := buf.Bytes()
	if crypto.Ready() {
		mac := crypto.out.mac(e.seq, wire)
		crypto.out.stream.XORKeyStream(wire, wire)
		wire = append(wire, mac...)
	}
	e.seq++
	return wire, nil
}

// Decoder assembles packets from bytes arriving in arbitrary chunks
// and decodes them with the current crypto of the given pair. It owns
// the incoming sequence number.
//
// The crypto record is captured when the first bytes of a packet
// arrive, so a rotation of the pair between two packets takes effect
// at the next packet boundary.
type Decoder struct {
	pair *CryptoPair
	seq  uint32

	// raw buffers bytes not yet decrypted.
	raw bytes.Buffer

	// clear holds the decrypted prefix of the packet being assembled,
	// including the four length bytes.
	clear []byte

	// packetLen is the value of the length field, zero when unknown.
	packetLen int

	// active is the crypto captured at the start of the packet; nil
	// when the packet started in cleartext mode.
	active *Crypto

	// started tells whether we are mid-packet.
	started bool
}

// NewDecoder returns a decoder reading with the given crypto pair.
func NewDecoder(pair *CryptoPair) *Decoder {
	return &Decoder{pair: pair}
}

// Feed consumes all the given bytes and returns the messages that
// became complete, possibly none. A protocol error is terminal: the
// decoder must not be used afterwards.
func (d *Decoder) Feed(data []byte) ([]*model.Message, error) {
	d.raw.Write(data)
	var out []*model.Message
	for {
		msg, err := d.step()
		if err != nil {
			return out, err
		}
		if msg == nil {
			return out, nil
		}
		out = append(out, msg)
	}
}

// step tries to complete the packet being assembled. It returns a nil
// message when more bytes are needed.
func (d *Decoder) step() (*model.Message, error) {
	if !d.started {
		if d.raw.Len() <= 0 {
			return nil, nil
		}
		crypto := d.pair.Current()
		if crypto.Ready() {
			d.active = crypto
		} else {
			d.active = nil
		}
		d.started = true
	}
	if d.active != nil {
		return d.stepEncrypted()
	}
	return d.stepCleartext()
}

func (d *Decoder) stepCleartext() (*model.Message, error) {
	if d.packetLen == 0 {
		if d.raw.Len() < 4 {
			return nil, nil
		}
		length, err := bytesx.ReadUint32(&d.raw)
		if err != nil {
			return nil, err
		}
		if err := checkPacketLength(length); err != nil {
			return nil, err
		}
		d.packetLen = int(length)
	}
	if d.raw.Len() < d.packetLen {
		return nil, nil
	}
	body := make([]byte, d.packetLen)
	d.raw.Read(body)
	return d.finish(body)
}

func (d *Decoder) stepEncrypted() (*model.Message, error) {
	blockSize := d.active.in.blockSize
	if blockSize < minBlockSize {
		blockSize = minBlockSize
	}
	if d.packetLen == 0 {
		if d.raw.Len() < blockSize {
			return nil, nil
		}
		first := make([]byte, blockSize)
		d.raw.Read(first)
		d.active.in.stream.XORKeyStream(first, first)
		length := binary.BigEndian.Uint32(first[:4])
		if err := checkPacketLength(length); err != nil {
			return nil, err
		}
		if (int(length)+4)%blockSize != 0 {
			return nil, fmt.Errorf("%w: length not block aligned", ErrBadPadding)
		}
		d.packetLen = int(length)
		d.clear = first
	}
	remaining := 4 + d.packetLen - len(d.clear)
	macSize := d.active.in.macSize
	if d.raw.Len() < remaining+macSize {
		return nil, nil
	}
	if remaining > 0 {
		rest := make([]byte, remaining)
		d.raw.Read(rest)
		d.active.in.stream.XORKeyStream(rest, rest)
		d.clear = append(d.clear, rest...)
	}
	wireMAC := make([]byte, macSize)
	d.raw.Read(wireMAC)
	expected := d.active.in.mac(d.seq, d.clear)
	if !hmac.Equal(wireMAC, expected) {
		return nil, ErrBadMAC
	}
	return d.finish(d.clear[4:])
}

// finish validates padding, extracts the payload, resets the decoder
// for the next packet and advances the sequence number.
func (d *Decoder) finish(body []byte) (*model.Message, error) {
	padSize := int(body[0])
	if padSize < minPaddingSize || padSize >= len(body) {
		return nil, fmt.Errorf("%w: padding length %d", ErrBadPadding, padSize)
	}
	payload := body[1 : len(body)-padSize]
	d.seq++
	d.packetLen = 0
	d.clear = nil
	d.active = nil
	d.started = false
	return model.ParseMessage(payload)
}

func checkPacketLength(length uint32) error {
	if length < minPacketLength {
		return fmt.Errorf("%w: length %d", ErrPacketTooShort, length)
	}
	if length > maxPacketLength {
		return fmt.Errorf("%w: length %d", ErrPacketTooLarge, length)
	}
	return nil
}
