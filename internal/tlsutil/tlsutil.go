package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"
)

// Options 额外的 TLS 设置，零值即默认加固配置
type Options struct {
	// CAFile 追加信任的 PEM 根证书，用于自建网关
	CAFile string `yaml:"ca_file" json:"ca_file" env:"CA_FILE"`
	// ServerName 覆盖 SNI 主机名
	ServerName string `yaml:"server_name" json:"server_name" env:"SERVER_NAME"`
}

var aeadSuites = []uint16{
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
	tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
}

// DefaultTLSConfig TLS 1.2+，仅 AEAD 密码套件
func DefaultTLSConfig() *tls.Config {
	suites := make([]uint16, len(aeadSuites))
	copy(suites, aeadSuites)
	return &tls.Config{MinVersion: tls.VersionTLS12, CipherSuites: suites}
}

// ClientTLSConfig 在默认配置上应用 Options
func ClientTLSConfig(opts Options) (*tls.Config, error) {
	cfg := DefaultTLSConfig()
	cfg.ServerName = opts.ServerName
	if opts.CAFile == "" {
		return cfg, nil
	}
	pem, err := os.ReadFile(opts.CAFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA file: %w", err)
	}
	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", opts.CAFile)
	}
	cfg.RootCAs = pool
	return cfg, nil
}

// ServerTLSConfig 加载服务端证书
func ServerTLSConfig(certFile, keyFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load server certificate: %w", err)
	}
	cfg := DefaultTLSConfig()
	cfg.Certificates = []tls.Certificate{cert}
	return cfg, nil
}

// SecureTransport 返回使用 cfg 的 http.Transport
func SecureTransport(cfg *tls.Config) *http.Transport {
	if cfg == nil {
		cfg = DefaultTLSConfig()
	}
	return &http.Transport{
		TLSClientConfig: cfg,
		Proxy:           http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// SecureHTTPClient 供模型后端使用的加固 HTTP 客户端
func SecureHTTPClient(timeout time.Duration, opts Options) (*http.Client, error) {
	cfg, err := ClientTLSConfig(opts)
	if err != nil {
		return nil, err
	}
	return &http.Client{Timeout: timeout, Transport: SecureTransport(cfg)}, nil
}
