// Copyright 2024 The prellblock authors
// This file is part of the prellblock library.
//
// The prellblock library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The prellblock library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the prellblock library. If not, see <http://www.gnu.org/licenses/>.

package peer

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"golang.org/x/crypto/pkcs12"
)

// LoadTLSBundle parses a PKCS#12 bundle -- an RPU's own certificate and
// private key plus the CA chain it trusts -- as produced by the cluster's
// provisioning tooling. The returned certificate and pool are what a
// mutually authenticated TLS listener or dialer needs; this package does
// not itself open a socket (see the package doc).
func LoadTLSBundle(path, password string) (tls.Certificate, *x509.CertPool, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return tls.Certificate{}, nil, fmt.Errorf("peer: read TLS bundle %s: %w", path, err)
	}
	key, cert, caCerts, err := pkcs12.DecodeChain(raw, password)
	if err != nil {
		return tls.Certificate{}, nil, fmt.Errorf("peer: decode TLS bundle %s: %w", path, err)
	}
	pool := x509.NewCertPool()
	for _, ca := range caCerts {
		pool.AddCert(ca)
	}
	return tls.Certificate{
		Certificate: [][]byte{cert.Raw},
		PrivateKey:  key,
		Leaf:        cert,
	}, pool, nil
}
