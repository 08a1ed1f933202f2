package wsconn

import (
	"crypto/tls"
	"crypto/x509"
	"os"

	"go.uber.org/zap"
)

// DefaultExtraCAPath is where a corporate proxy certificate is usually installed
const DefaultExtraCAPath = "/usr/local/share/ca-certificates/proxy-ca.crt"

// LoadTLSConfig returns a TLS config trusting the system roots plus any PEM
// certificates found at path. A missing or unreadable file is not an error.
func LoadTLSConfig(path string, logger *zap.Logger) *tls.Config {
	if path == "" {
		path = DefaultExtraCAPath
	}

	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		logger.Warn("System certificate pool unavailable, starting from an empty pool", zap.Error(err))
		pool = x509.NewCertPool()
	}

	pem, err := os.ReadFile(path)
	if err != nil {
		logger.Info("No extra CA certificate loaded", zap.String("path", path), zap.Error(err))
		return &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
	}

	if !pool.AppendCertsFromPEM(pem) {
		logger.Warn("Extra CA file contains no usable certificates", zap.String("path", path))
	} else {
		logger.Info("Loaded extra CA certificate", zap.String("path", path))
	}

	return &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
}
