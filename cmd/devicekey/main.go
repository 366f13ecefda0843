// Command devicekey generates an ed25519 device keypair and prints it
// base64-encoded, ready for /api/acl/register_device and for signing
// download requests.
package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"os"
)

type keyOutput struct { // A
	DeviceID   string `json:"device_id"`
	PublicKey  string `json:"device_public_key"`
	PrivateKey string `json:"device_private_key"`
}

func main() { // A
	if err := run(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "devicekey: %v\n", err)
		os.Exit(1)
	}
}

func run() error { // A
	deviceID := flag.String("device", "laptop", "device identifier to embed in the output")
	flag.Parse()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("generate keypair: %w", err)
	}

	out := keyOutput{
		DeviceID:   *deviceID,
		PublicKey:  base64.StdEncoding.EncodeToString(pub),
		PrivateKey: base64.StdEncoding.EncodeToString(priv),
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
