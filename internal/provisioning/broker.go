package provisioning

import (
	"fmt"
	"net"
	"strings"

	"github.com/CovCube/server/internal/infrastructure/config"
)

// BrokerEndpoint is the MQTT address advertised to cubes.
type BrokerEndpoint struct {
	Address string
	Port    int
}

// detectOutboundIP is replaced in tests.
var detectOutboundIP = outboundIP

// ResolveBroker picks the endpoint cubes should connect to. An explicit
// provisioning address wins. Otherwise the server's own broker host is
// used, with loopback and unspecified hosts replaced by the address of
// the interface that routes outward.
func ResolveBroker(prov config.ProvisioningConfig, broker config.MQTTBrokerConfig) (BrokerEndpoint, error) {
	ep := BrokerEndpoint{Address: strings.TrimSpace(prov.BrokerAddress), Port: prov.BrokerPort}
	if ep.Port <= 0 {
		ep.Port = broker.Port
	}
	if ep.Address != "" {
		return ep, nil
	}

	ep.Address = broker.Host
	if !isLocalHost(ep.Address) {
		return ep, nil
	}

	ip, err := detectOutboundIP()
	if err != nil {
		return BrokerEndpoint{}, fmt.Errorf("resolving advertised broker address: %w", err)
	}
	ep.Address = ip
	return ep, nil
}

func isLocalHost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && (ip.IsLoopback() || ip.IsUnspecified())
}

// outboundIP returns the local address the OS would use for outbound
// traffic. UDP dial sends no packets.
func outboundIP() (string, error) {
	conn, err := net.Dial("udp", "192.0.2.1:80")
	if err != nil {
		return "", err
	}
	defer conn.Close() //nolint:errcheck // UDP close cannot fail meaningfully

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return "", fmt.Errorf("unexpected local address %v", conn.LocalAddr())
	}
	return addr.IP.String(), nil
}
