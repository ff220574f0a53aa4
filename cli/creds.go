package cli

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"

	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/peer"

	"github.com/vifm/bgjob/job"
)

// Errors returned by CNToUser, distinguishing a missing peer from a
// malformed or absent client certificate so an operator can tell them
// apart from the log line.
var (
	ErrAuthFailed   = errors.New("authentication failed")
	ErrNoPeer       = fmt.Errorf("%w: no peer in context", ErrAuthFailed)
	ErrNoTLSInfo    = fmt.Errorf("%w: no TLSInfo auth info", ErrAuthFailed)
	ErrNoClientCert = fmt.Errorf("%w: no client certificate in auth info", ErrAuthFailed)
	ErrNoCNInCert   = fmt.Errorf("%w: no CN in client certificate", ErrAuthFailed)
)

// TLSFiles names the three PEM files mTLSCreds needs. An empty CertFile
// (the common case for a host running vifmjobs locally) selects plaintext
// transport instead, since a purely local daemon has no multi-tenant
// surface to protect against by default.
type TLSFiles struct {
	CertFile string
	KeyFile  string
	CAFile   string
}

// Creds builds transport credentials from f, or insecure.NewCredentials()
// if f.CertFile is empty.
func (f TLSFiles) Creds() (credentials.TransportCredentials, error) {
	if f.CertFile == "" {
		return insecure.NewCredentials(), nil
	}
	return mTLSCreds(f.CertFile, f.KeyFile, f.CAFile)
}

func mTLSCreds(certFile, keyFile, caFile string) (credentials.TransportCredentials, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, err
	}

	caCert, err := os.ReadFile(caFile)
	if err != nil {
		return nil, err
	}
	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("could not load ca certs from %s", caFile)
	}

	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      caCertPool,
		ClientCAs:    caCertPool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
		MinVersion:   tls.VersionTLS13,
	}
	return credentials.NewTLS(cfg), nil
}

// CNToUser extracts the CN of a gRPC peer's client certificate and stores
// it in ctx as the request's authenticated identity (job.AddUserToContext),
// for a unary interceptor to attach before a request reaches a handler.
func CNToUser(ctx context.Context) (context.Context, error) {
	p, ok := peer.FromContext(ctx)
	if !ok {
		return nil, ErrNoPeer
	}

	authInfo, ok := p.AuthInfo.(credentials.TLSInfo)
	if !ok {
		return nil, ErrNoTLSInfo
	}

	if len(authInfo.State.PeerCertificates) == 0 {
		return nil, ErrNoClientCert
	}

	cn := authInfo.State.PeerCertificates[0].Subject.CommonName
	if cn == "" {
		return nil, ErrNoCNInCert
	}

	return job.AddUserToContext(ctx, cn), nil
}
