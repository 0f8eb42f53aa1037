package testhelpers

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"io"
	"math/big"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

// SMTPServer is an in-process SMTP server for delivery tests. Sessions stay
// plaintext on loopback unless WithSTARTTLS is given.
type SMTPServer struct {
	Host string
	Port int

	server     *smtp.Server
	listener   net.Listener
	done       chan struct{}
	rejectAuth bool
	startTLS   bool
	roots      *x509.CertPool

	mu          sync.Mutex
	messages    []Message
	auths       []Auth
	connections int
}

// Message is one accepted DATA payload.
type Message struct {
	From string
	To   []string
	Raw  string
	TLS  bool
}

// Auth is one AUTH exchange as the server saw it.
type Auth struct {
	Username string
	TLS      bool
	Accepted bool
}

type SMTPOption func(*SMTPServer)

// WithRejectAuth makes every AUTH exchange fail with 535.
func WithRejectAuth() SMTPOption {
	return func(s *SMTPServer) { s.rejectAuth = true }
}

// WithSTARTTLS advertises STARTTLS with a self-signed certificate for
// 127.0.0.1. Clients trust it through ClientTLSConfig.
func WithSTARTTLS() SMTPOption {
	return func(s *SMTPServer) { s.startTLS = true }
}

func NewSMTPServer(t testing.TB, opts ...SMTPOption) *SMTPServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().(*net.TCPAddr)
	s := &SMTPServer{Host: "127.0.0.1", Port: addr.Port, listener: ln, done: make(chan struct{})}
	for _, opt := range opts {
		opt(s)
	}

	srv := smtp.NewServer(&smtpBackend{srv: s})
	srv.Domain = "localhost"
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 10 * time.Second
	srv.MaxMessageBytes = 10 << 20
	srv.AllowInsecureAuth = true
	if s.startTLS {
		cert, roots, err := selfSignedCert(s.Host)
		if err != nil {
			_ = ln.Close()
			t.Fatalf("certificate: %v", err)
		}
		srv.TLSConfig = &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
		s.roots = roots
	}
	s.server = srv

	go func() {
		defer close(s.done)
		_ = srv.Serve(&countingListener{Listener: ln, srv: s})
	}()
	t.Cleanup(s.Close)
	return s
}

func (s *SMTPServer) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

func (s *SMTPServer) Close() {
	_ = s.server.Close()
	// Serve may not have registered the listener yet.
	_ = s.listener.Close()
	<-s.done
}

// ClientTLSConfig trusts the server certificate. It is nil without WithSTARTTLS.
func (s *SMTPServer) ClientTLSConfig() *tls.Config {
	if s.roots == nil {
		return nil
	}
	return &tls.Config{RootCAs: s.roots, ServerName: s.Host, MinVersion: tls.VersionTLS12}
}

// Messages returns the raw DATA payloads received so far.
func (s *SMTPServer) Messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.messages))
	for i, m := range s.messages {
		out[i] = m.Raw
	}
	return out
}

// Deliveries returns the accepted messages with their envelope.
func (s *SMTPServer) Deliveries() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Auths returns every AUTH exchange in arrival order.
func (s *SMTPServer) Auths() []Auth {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Auth, len(s.auths))
	copy(out, s.auths)
	return out
}

func (s *SMTPServer) AuthAttempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.auths)
}

// Connections counts accepted TCP connections.
func (s *SMTPServer) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connections
}

type countingListener struct {
	net.Listener
	srv *SMTPServer
}

func (l *countingListener) Accept() (net.Conn, error) {
	c, err := l.Listener.Accept()
	if err == nil {
		l.srv.mu.Lock()
		l.srv.connections++
		l.srv.mu.Unlock()
	}
	return c, err
}

type smtpBackend struct {
	srv *SMTPServer
}

func (b *smtpBackend) NewSession(c *smtp.Conn) (smtp.Session, error) {
	return &smtpSession{srv: b.srv, conn: c}, nil
}

// smtpSession lives for one EHLO; STARTTLS starts a new one.
type smtpSession struct {
	srv  *SMTPServer
	conn *smtp.Conn
	from string
	to   []string
}

func (s *smtpSession) secure() bool {
	_, ok := s.conn.TLSConnectionState()
	return ok
}

func (s *smtpSession) AuthMechanisms() []string {
	return []string{sasl.Plain}
}

func (s *smtpSession) Auth(mech string) (sasl.Server, error) {
	if mech != sasl.Plain {
		return nil, &smtp.SMTPError{
			Code:         504,
			EnhancedCode: smtp.EnhancedCode{5, 7, 4},
			Message:      "Unsupported authentication mechanism",
		}
	}
	return sasl.NewPlainServer(func(_, username, _ string) error {
		accepted := !s.srv.rejectAuth
		s.srv.mu.Lock()
		s.srv.auths = append(s.srv.auths, Auth{Username: username, TLS: s.secure(), Accepted: accepted})
		s.srv.mu.Unlock()
		if !accepted {
			return &smtp.SMTPError{
				Code:         535,
				EnhancedCode: smtp.EnhancedCode{5, 7, 8},
				Message:      "Authentication credentials invalid",
			}
		}
		return nil
	}), nil
}

func (s *smtpSession) Mail(from string, _ *smtp.MailOptions) error {
	s.from = from
	return nil
}

func (s *smtpSession) Rcpt(to string, _ *smtp.RcptOptions) error {
	s.to = append(s.to, to)
	return nil
}

func (s *smtpSession) Data(r io.Reader) error {
	raw, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.srv.mu.Lock()
	s.srv.messages = append(s.srv.messages, Message{
		From: s.from,
		To:   append([]string(nil), s.to...),
		Raw:  string(raw),
		TLS:  s.secure(),
	})
	s.srv.mu.Unlock()
	return nil
}

func (s *smtpSession) Reset() {
	s.from = ""
	s.to = nil
}

func (s *smtpSession) Logout() error { return nil }

// selfSignedCert issues a short-lived certificate for host and a pool that
// trusts it.
func selfSignedCert(host string) (tls.Certificate, *x509.CertPool, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, nil, err
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: host},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		DNSNames:              []string{"localhost"},
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return tls.Certificate{}, nil, errors.New("host must be an IP address")
	}
	tmpl.IPAddresses = []net.IP{ip}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, nil, err
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		return tls.Certificate{}, nil, err
	}
	roots := x509.NewCertPool()
	roots.AddCert(leaf)
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key, Leaf: leaf}, roots, nil
}
