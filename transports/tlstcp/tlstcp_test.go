package tlstcp_test

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glimte/spsock-go"
	"github.com/glimte/spsock-go/errcode"
	_ "github.com/glimte/spsock-go/transports/tlstcp"
)

// selfSigned returns a server config with a fresh self-signed certificate
// and a client config trusting exactly that certificate.
func selfSigned(t *testing.T) (server, client *tls.Config) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "spsock-test"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
		IsCA:                  true,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	leaf, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	pool := x509.NewCertPool()
	pool.AddCert(leaf)

	server = &tls.Config{
		Certificates: []tls.Certificate{{Certificate: [][]byte{der}, PrivateKey: key, Leaf: leaf}},
	}
	client = &tls.Config{RootCAs: pool}
	return server, client
}

func TestTLSRoundTrip(t *testing.T) {
	serverCfg, clientCfg := selfSigned(t)

	rep, err := spsock.NewRep0()
	require.NoError(t, err)
	defer rep.Close()

	l, err := rep.ListenWith("tls+tcp://127.0.0.1:0", spsock.ListenOptions{TLSConfig: serverCfg})
	require.NoError(t, err)

	go func() {
		for {
			body, err := rep.Recv()
			if err != nil {
				return
			}
			rep.Send(body)
		}
	}()

	req, err := spsock.NewReq0()
	require.NoError(t, err)
	defer req.Close()
	require.NoError(t, spsock.SetOption(req, spsock.OptionRecvTimeout, 5*time.Second))
	_, err = req.DialWith(l.Addr(), spsock.DialOptions{TLSConfig: clientCfg})
	require.NoError(t, err)

	require.NoError(t, req.Send([]byte("over tls")))
	got, err := req.Recv()
	require.NoError(t, err)
	assert.Equal(t, "over tls", string(got))
}

func TestTLSRequiresConfig(t *testing.T) {
	s, err := spsock.NewPush0()
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Listen("tls+tcp://127.0.0.1:0")
	assert.True(t, errors.Is(err, errcode.ErrInvalidArgument))

	_, err = s.Dial("tls+tcp://127.0.0.1:1")
	assert.True(t, errors.Is(err, errcode.ErrInvalidArgument))
}

func TestTLSUntrustedClientRejected(t *testing.T) {
	serverCfg, _ := selfSigned(t)

	pull, err := spsock.NewPull0()
	require.NoError(t, err)
	defer pull.Close()

	l, err := pull.ListenWith("tls+tcp://127.0.0.1:0", spsock.ListenOptions{TLSConfig: serverCfg})
	require.NoError(t, err)

	push, err := spsock.NewPush0()
	require.NoError(t, err)
	defer push.Close()

	// A client with no trust anchors must fail verification.
	_, err = push.DialWith(l.Addr(), spsock.DialOptions{TLSConfig: &tls.Config{}})
	assert.Error(t, err)
}
