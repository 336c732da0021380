package main

import (
	"encoding/hex"
	"fmt"

	"github.com/ooni/minissh/internal/packet"
)

func main() {
	h := func(s string) []byte {
		b, err := hex.DecodeString(s)
		if err != nil {
			panic(err)
		}
		return b
	}
	keys := &packet.KeyMaterial{
		IVClientToServer:  h("249bd2674b9c67184a16849caeb75e48"),
		IVServerToClient:  h("5114d0fd16b9dbd2761892dff895a5e7"),
		KeyClientToServer: h("957a0db08b3176f3a814aa9b49b47fee"),
		KeyServerToClient: h("1248c6c31723eec21baeb42069c4c94e"),
		MACClientToServer: h("e6a96f1e3a72ef5498e64c0c9cdeeb11f3910efa0f919f9e0800f14e6eeacdec"),
		MACServerToClient: h("a94849a2ad4b697e690dd14a9555bb1e1932ebd3457768e223de9c247382d9f5"),
	}
	swapped := &packet.KeyMaterial{
		IVClientToServer:  keys.IVServerToClient,
		IVServerToClient:  keys.IVClientToServer,
		KeyClientToServer: keys.KeyServerToClient,
		KeyServerToClient: keys.KeyClientToServer,
		MACClientToServer: keys.MACServerToClient,
		MACServerToClient: keys.MACClientToServer,
	}
	algo := packet.Algorithms{
		CipherClientToServer: "aes128-ctr",
		CipherServerToClient: "aes128-ctr",
		MACClientToServer:    "hmac-sha2-256",
		MACServerToClient:    "hmac-sha2-256",
	}
	crypto, err := packet.NewCrypto(algo, swapped)
	if err != nil {
		fmt.Println("err", err)
		return
	}
	pair := packet.NewCryptoPair()
	pair.SetNext(crypto)
	pair.Rotate()
	dec := packet.NewDecoder(pair)
	ct := h("62d19b4d310f70ac2c430e41f28a2052cd332d895e8528f7e2ad206225662d72b91d3002189a9f825986887d031291c196625d59cef3cd2659018a1d1babec36")
	msgs, err := dec.Feed(ct)
	fmt.Println("msgs:", msgs, "err:", err)
}
