package clocksync

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"

	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"

	"camerasync/internal/logging"
)

// DefaultGroup and DefaultPort match spec.md §6's parameter-file defaults.
const (
	DefaultGroup = "239.255.255.250"
	DefaultPort  = uint16(10000)
)

// LeaderTransport sends beacons to the multicast group. It never receives.
type LeaderTransport struct {
	conn *net.UDPConn
}

// NewLeaderTransport opens a datagram socket connected to (group, port).
// Socket setup runs once, synchronously, matching spec.md §5.
func NewLeaderTransport(group string, port uint16) (*LeaderTransport, error) {
	addr := &net.UDPAddr{IP: net.ParseIP(group), Port: int(port)}
	if addr.IP == nil {
		return nil, errors.New("clocksync: invalid multicast group address")
	}
	conn, err := net.DialUDP("udp4", nil, addr)
	if err != nil {
		return nil, err
	}
	return &LeaderTransport{conn: conn}, nil
}

// Send transmits the beacon. A send failure is the caller's to log; it is
// never fatal and the next beacon (one sync period later) is the natural
// retry opportunity (spec.md §7).
func (l *LeaderTransport) Send(b Beacon) error {
	if l == nil || l.conn == nil {
		return errors.New("clocksync: leader transport not initialised")
	}
	wire := b.Encode()
	_, err := l.conn.Write(wire[:])
	return err
}

// Close releases the socket.
func (l *LeaderTransport) Close() error {
	if l == nil || l.conn == nil {
		return nil
	}
	return l.conn.Close()
}

// FollowerTransport joins the multicast group non-blocking and drains
// received beacons once per frame, keeping only the last fully received
// datagram (spec.md §4.4).
type FollowerTransport struct {
	pconn *ipv4.PacketConn
	buf   [256]byte
}

// reuseAddrControl sets SO_REUSEADDR on the listening socket before bind,
// so multiple followers on the same host can share the port (spec.md §5).
func reuseAddrControl(_, _ string, c syscall.RawConn) error {
	var setErr error
	err := c.Control(func(fd uintptr) {
		setErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return setErr
}

// NewFollowerTransport binds to (INADDR_ANY, port), enables SO_REUSEADDR,
// and joins the multicast group on the default interface.
func NewFollowerTransport(group string, port uint16) (*FollowerTransport, error) {
	groupIP := net.ParseIP(group)
	if groupIP == nil {
		return nil, errors.New("clocksync: invalid multicast group address")
	}

	lc := net.ListenConfig{Control: reuseAddrControl}
	packetConn, err := lc.ListenPacket(context.Background(), "udp4", udpBindAddr(port))
	if err != nil {
		return nil, err
	}

	pconn := ipv4.NewPacketConn(packetConn)
	if err := pconn.JoinGroup(nil, &net.UDPAddr{IP: groupIP}); err != nil {
		_ = packetConn.Close()
		return nil, err
	}

	return &FollowerTransport{pconn: pconn}, nil
}

func udpBindAddr(port uint16) string {
	return fmt.Sprintf(":%d", port)
}

// Drain repeatedly performs a non-blocking receive until it would block,
// returning only the last fully decoded beacon and the source IP it
// arrived from. Each receive is given a read deadline drainWait in the
// future as the Go substitute for O_NONBLOCK + EWOULDBLOCK: a datagram
// already queued by the kernel is returned immediately, while an empty
// socket returns a timeout error after at most drainWait. (A deadline
// already in the past would fail the read before the socket is checked.)
func (f *FollowerTransport) Drain(logger *logging.Logger) (Beacon, net.IP, bool) {
	if f == nil || f.pconn == nil {
		return Beacon{}, nil, false
	}
	var last Beacon
	var srcIP net.IP
	var found bool

	const drainWait = time.Millisecond
	for {
		if err := f.pconn.SetReadDeadline(time.Now().Add(drainWait)); err != nil {
			logger.Error("follower transport: set read deadline failed", logging.Error(err))
			return last, srcIP, found
		}
		n, _, src, err := f.pconn.ReadFrom(f.buf[:])
		if err != nil {
			// Any error other than would-block ends the drain for this
			// frame (spec.md §7); a plain timeout is the normal, silent
			// end-of-drain condition.
			var netErr net.Error
			if !errors.As(err, &netErr) || !netErr.Timeout() {
				logger.Error("follower transport: recvfrom failed", logging.Error(err))
			}
			return last, srcIP, found
		}
		beacon, ok := DecodeBeacon(f.buf[:n])
		if !ok {
			continue
		}
		last = beacon
		found = true
		if udpAddr, ok := src.(*net.UDPAddr); ok {
			srcIP = udpAddr.IP
		}
	}
}

// Close releases the socket.
func (f *FollowerTransport) Close() error {
	if f == nil || f.pconn == nil {
		return nil
	}
	return f.pconn.Close()
}

// LocalIP performs the self-IP detection trick from spec.md §4.4: connect
// a UDP socket to 8.8.8.8:53 without sending a packet, then read back the
// locally assigned address via getsockname.
func LocalIP() (net.IP, error) {
	conn, err := net.Dial("udp4", "8.8.8.8:53")
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return nil, errors.New("clocksync: unexpected local address type")
	}
	return addr.IP, nil
}
