// Package tlstest issues throwaway certificates for TLS and mTLS tests.
package tlstest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// Bundle is a CA plus one loopback server certificate and one client
// certificate, all written as PEM files under a test temp dir.
type Bundle struct {
	CAFile     string
	ServerCert string
	ServerKey  string
	ClientCert string
	ClientKey  string
}

type issuer struct {
	t    testing.TB
	dir  string
	cert *x509.Certificate
	key  *ecdsa.PrivateKey
	next int64
}

// NewBundle issues a server certificate valid for localhost and 127.0.0.1,
// and a client certificate whose common name is clientName.
func NewBundle(t testing.TB, clientName string) Bundle {
	t.Helper()
	is := &issuer{t: t, dir: t.TempDir(), next: 1}

	key := is.newKey()
	tmpl := is.template("fusion-test-ca")
	tmpl.KeyUsage = x509.KeyUsageCertSign | x509.KeyUsageCRLSign
	tmpl.BasicConstraintsValid = true
	tmpl.IsCA = true
	tmpl.MaxPathLenZero = true
	der := is.sign(tmpl, tmpl, key, key)
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse ca cert: %v", err)
	}
	is.cert, is.key = cert, key

	b := Bundle{CAFile: is.write("ca.crt", "CERTIFICATE", der, 0o644)}

	server := is.template("localhost")
	server.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth}
	server.DNSNames = []string{"localhost"}
	server.IPAddresses = []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback}
	b.ServerCert, b.ServerKey = is.leaf("server", server)

	client := is.template(clientName)
	client.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth}
	b.ClientCert, b.ClientKey = is.leaf("client", client)
	return b
}

func (is *issuer) newKey() *ecdsa.PrivateKey {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		is.t.Fatalf("generate key: %v", err)
	}
	return key
}

func (is *issuer) template(commonName string) *x509.Certificate {
	now := time.Now()
	serial := big.NewInt(is.next)
	is.next++
	return &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: commonName},
		NotBefore:    now.Add(-time.Hour),
		NotAfter:     now.Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
}

func (is *issuer) sign(tmpl, parent *x509.Certificate, pub, signer *ecdsa.PrivateKey) []byte {
	der, err := x509.CreateCertificate(rand.Reader, tmpl, parent, &pub.PublicKey, signer)
	if err != nil {
		is.t.Fatalf("create cert %q: %v", tmpl.Subject.CommonName, err)
	}
	return der
}

func (is *issuer) leaf(name string, tmpl *x509.Certificate) (certPath, keyPath string) {
	key := is.newKey()
	der := is.sign(tmpl, is.cert, key, is.key)
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		is.t.Fatalf("marshal %s key: %v", name, err)
	}
	return is.write(name+".crt", "CERTIFICATE", der, 0o644),
		is.write(name+".key", "EC PRIVATE KEY", keyDER, 0o600)
}

func (is *issuer) write(name, blockType string, der []byte, perm os.FileMode) string {
	path := filepath.Join(is.dir, name)
	if err := os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der}), perm); err != nil {
		is.t.Fatalf("write %s: %v", name, err)
	}
	return path
}
