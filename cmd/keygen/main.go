// keygen generates an RSA key pair for JWT signing and writes PEM files.
// Point JWT_PRIVATE_KEY and JWT_PUBLIC_KEY at the output paths.
package main

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"flag"
	"fmt"
	"os"
)

func main() {
	privPath := flag.String("private", "jwt_private.pem", "Output path for the private key PEM")
	pubPath := flag.String("public", "jwt_public.pem", "Output path for the public key PEM")
	bits := flag.Int("bits", 2048, "RSA key size in bits")
	flag.Parse()

	key, err := rsa.GenerateKey(rand.Reader, *bits)
	if err != nil {
		fmt.Fprintln(os.Stderr, "generate key:", err)
		os.Exit(1)
	}

	privPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	pubBytes, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		fmt.Fprintln(os.Stderr, "marshal public key:", err)
		os.Exit(1)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: pubBytes,
	})

	// Private key is readable by owner only.
	if err := os.WriteFile(*privPath, privPEM, 0o600); err != nil {
		fmt.Fprintln(os.Stderr, "write private key:", err)
		os.Exit(1)
	}
	if err := os.WriteFile(*pubPath, pubPEM, 0o644); err != nil {
		fmt.Fprintln(os.Stderr, "write public key:", err)
		os.Exit(1)
	}
	fmt.Printf("wrote %s and %s\n", *privPath, *pubPath)
}
