package httpc

import (
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Options configures the client used for readiness probes.
type Options struct {
	Insecure      bool
	MinTLSVersion string
	MaxTLSVersion string
	Timeout       time.Duration
}

// ParseTLSVersion maps "1.0".."1.3" (optionally prefixed "tls") to a crypto/tls constant.
// An empty string yields 0.
func ParseTLSVersion(s string) (uint16, error) {
	v := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "tls")
	switch strings.TrimSpace(v) {
	case "":
		return 0, nil
	case "1.0", "10":
		return tls.VersionTLS10, nil
	case "1.1", "11":
		return tls.VersionTLS11, nil
	case "1.2", "12":
		return tls.VersionTLS12, nil
	case "1.3", "13":
		return tls.VersionTLS13, nil
	default:
		return 0, fmt.Errorf("unsupported TLS version %q", s)
	}
}

// New returns a resty.Client configured from opts. TLS settings are only applied
// when at least one of them is set.
func New(opts Options) (*resty.Client, error) {
	c := resty.New()
	if opts.Timeout > 0 {
		c.SetTimeout(opts.Timeout)
	}
	minV, err := ParseTLSVersion(opts.MinTLSVersion)
	if err != nil {
		return nil, err
	}
	maxV, err := ParseTLSVersion(opts.MaxTLSVersion)
	if err != nil {
		return nil, err
	}
	if !opts.Insecure && minV == 0 && maxV == 0 {
		return c, nil
	}
	if minV != 0 && maxV != 0 && minV > maxV {
		return nil, fmt.Errorf("min TLS version %s is above max %s", opts.MinTLSVersion, opts.MaxTLSVersion)
	}
	// #nosec G402 -- insecure is an explicit operator opt-in for self-signed probes
	c.SetTLSClientConfig(&tls.Config{
		InsecureSkipVerify: opts.Insecure,
		MinVersion:         minV,
		MaxVersion:         maxV,
	})
	return c, nil
}
