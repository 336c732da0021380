package bytesx

import (
	"bytes"
	"errors"
	"math/big"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func Test_GenRandomBytes(t *testing.T) {
	const smallBuffer = 128
	data, err := GenRandomBytes(smallBuffer)
	if err != nil {
		t.Fatal("unexpected error", err)
	}
	if len(data) != smallBuffer {
		t.Fatal("unexpected returned buffer length")
	}
}

func Test_WriteString(t *testing.T) {
	type args struct {
		data []byte
	}
	tests := []struct {
		name    string
		args    args
		want    []byte
		wantErr error
	}{{
		name: "common case",
		args: args{
			data: []byte("test"),
		},
		want:    []byte{0, 0, 0, 4, 116, 101, 115, 116},
		wantErr: nil,
	}, {
		name: "encoding empty string",
		args: args{
			data: []byte{},
		},
		want:    []byte{0, 0, 0, 0},
		wantErr: nil,
	}}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			err := WriteString(buf, tt.args.data)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("WriteString() error = %v, wantErr %v", err, tt.wantErr)
			}
			if diff := cmp.Diff(tt.want, buf.Bytes()); diff != "" {
				t.Fatal(diff)
			}
		})
	}
}

func Test_ReadString(t *testing.T) {
	type args struct {
		b []byte
	}
	tests := []struct {
		name    string
		args    args
		want    []byte
		wantErr error
	}{{
		name: "common case",
		args: args{
			b: []byte{0, 0, 0, 4, 116, 101, 115, 116},
		},
		want:    []byte("test"),
		wantErr: nil,
	}, {
		name: "empty string",
		args: args{
			b: []byte{0, 0, 0, 0},
		},
		want:    []byte{},
		wantErr: nil,
	}, {
		name: "short buffer",
		args: args{
			b: []byte{0, 0},
		},
		want:    nil,
		wantErr: ErrDecode,
	}, {
		name: "length larger than payload",
		args: args{
			b: []byte{0, 0, 0, 10, 1, 2, 3},
		},
		want:    nil,
		wantErr: ErrDecode,
	}}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ReadString(bytes.NewBuffer(tt.args.b))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ReadString() error = %v, wantErr %v", err, tt.wantErr)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Fatal(diff)
			}
		})
	}
}

func Test_NameList(t *testing.T) {
	type args struct {
		names []string
	}
	tests := []struct {
		name string
		args args
		want []byte
	}{{
		name: "two names",
		args: args{
			names: []string{"aes128-ctr", "aes256-ctr"},
		},
		want: append([]byte{0, 0, 0, 21}, []byte("aes128-ctr,aes256-ctr")...),
	}, {
		name: "empty list",
		args: args{
			names: []string{},
		},
		want: []byte{0, 0, 0, 0},
	}}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			if err := WriteNameList(buf, tt.args.names); err != nil {
				t.Fatal("unexpected error", err)
			}
			if diff := cmp.Diff(tt.want, buf.Bytes()); diff != "" {
				t.Fatal(diff)
			}
			back, err := ReadNameList(bytes.NewBuffer(buf.Bytes()))
			if err != nil {
				t.Fatal("unexpected error", err)
			}
			if diff := cmp.Diff(tt.args.names, back); diff != "" {
				t.Fatal(diff)
			}
		})
	}
}

func Test_BigInt(t *testing.T) {
	type args struct {
		val *big.Int
	}
	tests := []struct {
		name string
		args args
		want []byte
	}{{
		name: "small positive value",
		args: args{
			val: big.NewInt(0x11223344),
		},
		want: []byte{0, 0, 0, 4, 0x11, 0x22, 0x33, 0x44},
	}, {
		name: "high bit set gets a leading zero",
		args: args{
			val: big.NewInt(0x80),
		},
		want: []byte{0, 0, 0, 2, 0x00, 0x80},
	}, {
		name: "zero encodes as empty",
		args: args{
			val: big.NewInt(0),
		},
		want: []byte{0, 0, 0, 0},
	}}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			if err := WriteBigInt(buf, tt.args.val); err != nil {
				t.Fatal("unexpected error", err)
			}
			if diff := cmp.Diff(tt.want, buf.Bytes()); diff != "" {
				t.Fatal(diff)
			}
			back, err := ReadBigInt(bytes.NewBuffer(buf.Bytes()))
			if err != nil {
				t.Fatal("unexpected error", err)
			}
			if back.Cmp(tt.args.val) != 0 {
				t.Fatalf("round trip mismatch: got %v, want %v", back, tt.args.val)
			}
		})
	}
}

func Test_ReadBigInt_rejectsNegative(t *testing.T) {
	raw := []byte{0, 0, 0, 1, 0xff}
	if _, err := ReadBigInt(bytes.NewBuffer(raw)); !errors.Is(err, ErrDecode) {
		t.Fatalf("expected ErrDecode, got %v", err)
	}
}

func Test_Burn(t *testing.T) {
	secret := []byte{1, 2, 3, 4}
	Burn(secret)
	if diff := cmp.Diff([]byte{0, 0, 0, 0}, secret); diff != "" {
		t.Fatal(diff)
	}
}

func Test_BurnBigInt(t *testing.T) {
	v := big.NewInt(0xdeadbeef)
	BurnBigInt(v)
	if v.Sign() != 0 {
		t.Fatal("expected zero value after burn")
	}
	BurnBigInt(nil)
}
