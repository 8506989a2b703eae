// Package address parses "[scheme://]host[/path]:port" strings into endpoints.
//
// Endpoint.String() is the canonical "host:port" form and is used as the cache key
// for per-address clients and proxies, so every spelling of the same logical address
// must resolve to an identical Endpoint.
package address

import (
	"net"
	"strconv"
	"strings"

	"hippo4j-rpc/rpcerr"
)

var schemes = []string{"http://", "https://"}

// Endpoint is a resolved remote address.
type Endpoint struct {
	Host string
	Port int
}

// String returns the canonical host:port form.
func (e Endpoint) String() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// Resolve parses s. The scheme and any path segment are stripped; a trailing
// ":port" is mandatory.
func Resolve(s string) (Endpoint, error) {
	rest := strings.TrimSpace(s)
	for _, scheme := range schemes {
		if len(rest) >= len(scheme) && strings.EqualFold(rest[:len(scheme)], scheme) {
			rest = rest[len(scheme):]
			break
		}
	}

	idx := strings.LastIndex(rest, ":")
	if idx < 0 {
		return Endpoint{}, &rpcerr.AddressFormatError{Address: s, Reason: "missing port"}
	}
	hostPart, portPart := rest[:idx], rest[idx+1:]

	port, err := strconv.Atoi(portPart)
	if err != nil || port < 1 || port > 65535 {
		return Endpoint{}, &rpcerr.AddressFormatError{Address: s, Reason: "invalid port " + strconv.Quote(portPart)}
	}

	// "hippo4j.cn/login" -> "hippo4j.cn"
	if slash := strings.Index(hostPart, "/"); slash >= 0 {
		hostPart = hostPart[:slash]
	}
	hostPart = strings.TrimSuffix(strings.TrimPrefix(hostPart, "["), "]")
	if hostPart == "" {
		return Endpoint{}, &rpcerr.AddressFormatError{Address: s, Reason: "missing host"}
	}

	return Endpoint{Host: strings.ToLower(hostPart), Port: port}, nil
}

// MustResolve is like Resolve but panics on error.
func MustResolve(s string) Endpoint {
	ep, err := Resolve(s)
	if err != nil {
		panic(err)
	}
	return ep
}
