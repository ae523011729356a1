package util

import (
	"fmt"
	"io"
	"net"
	"os"

	log "github.com/sirupsen/logrus"
)

// getOutboundIP retrieves the preferred outbound IP address of this machine.
// It uses a UDP socket to a public DNS server to determine the local IP
// address that would be used for outbound traffic; no packet is sent.
func getOutboundIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer func() {
		if closeErr := conn.Close(); closeErr != nil {
			log.Warnf("Failed to close UDP connection: %v", closeErr)
		}
	}()

	localAddr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return "", fmt.Errorf("could not assert UDP address type")
	}
	return localAddr.IP.String(), nil
}

// PrintSSHTunnelInstructions writes SSH tunnel instructions for completing the
// login from a browser on another machine. The loopback callback only accepts
// local connections, so the port has to be forwarded.
func PrintSSHTunnelInstructions(w io.Writer, port int) {
	if w == nil {
		w = os.Stdout
	}
	host, err := getOutboundIP()
	if err != nil {
		log.Debugf("outbound IP detection failed: %v", err)
		host = "<this-machine>"
	}
	user := os.Getenv("USER")
	if user == "" {
		user = "<user>"
	}
	border := "================================================================================"
	_, _ = fmt.Fprintln(w, "If your browser runs on another machine, forward the callback port first.")
	_, _ = fmt.Fprintln(w, border)
	_, _ = fmt.Fprintln(w, "  Run the following command on the machine running the browser:")
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintf(w, "  ssh -L %d:127.0.0.1:%d %s@%s\n", port, port, user, host)
	_, _ = fmt.Fprintln(w, border)
}
