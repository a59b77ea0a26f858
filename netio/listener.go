package netio

import (
	"crypto/tls"
	"fmt"
	"net"
)

// Listen binds one configured listener stanza (§6: plain, tls, or
// websocket transport) and returns a transport-agnostic net.Listener.
func Listen(transport, bind string, tlsConf *tls.Config, wsOrigins []string) (net.Listener, error) {
	switch transport {
	case "", "plain":
		return net.Listen("tcp", bind)
	case "tls":
		if tlsConf == nil {
			return nil, fmt.Errorf("netio: tls transport on %s requires a certificate", bind)
		}
		return tls.Listen("tcp", bind, tlsConf)
	case "websocket":
		return ListenWebSocket(bind, wsOrigins)
	default:
		return nil, fmt.Errorf("netio: unknown transport %q", transport)
	}
}
