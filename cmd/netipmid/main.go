// Command netipmid is Core B's RMCP+/RAKP session daemon: it owns the UDP
// listener IPMI LAN-over-RMCP+ traffic arrives on, the session manager, the
// SOL payload instances, and (since blob operations reach this daemon as
// IPMI commands in the original architecture) the firmware blob handler.
// It also serves the admin/status HTTP+SSE surface. Wiring and lifecycle
// mirror the teacher's main.go: flag-parsed config path, signal-driven
// context cancellation, defer-closed resources, background cleanup ticker.
package main

import (
	"context"
	"flag"
	"net"
	"os"
	"os/signal"
	"reflect"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/openbmc-go/netipmid/blob"
	"github.com/openbmc-go/netipmid/config"
	"github.com/openbmc-go/netipmid/daemon"
	"github.com/openbmc-go/netipmid/logs"
	"github.com/openbmc-go/netipmid/rakp"
	"github.com/openbmc-go/netipmid/server"
	"github.com/openbmc-go/netipmid/session"
	"github.com/openbmc-go/netipmid/sol"
)

var Version = "1.0.0"

// reapInterval is how often the event loop sweeps for expired sessions,
// independent of StartSession's own reap-on-create. Equal to
// session.SetupTimeout, so a stalled handshake is evicted at most two
// intervals after its last activity.
const reapInterval = 5 * time.Second

func main() {
	configPath := flag.String("config", "netipmid.yaml", "Path to config file")
	flag.Parse()

	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	users := rakp.NewInMemoryUsers()
	for _, u := range cfg.Users {
		users.AddUser(u.Name, u.ID, u.Password, u.Privilege)
	}

	sessions := session.NewManager(uint8(cfg.Session.ChannelNum), cfg.Session.MaxPerChannel)

	blobHandler, err := blob.NewHandler(blob.LoadHandlerConfigs(cfg.Blob.ConfigDir), blob.DefaultTransports())
	if err != nil {
		log.WithError(err).Warn("netipmid: no usable blob configuration, firmware update surface disabled")
		blobHandler = nil
	}

	auditLog := logs.NewWriter(cfg.Logs.Path, cfg.Logs.RetentionDays)
	defer auditLog.Close()

	svc := daemon.NewServices(sessions, blobHandler, users, rakp.NewGUID())
	svc.AuditLog = auditLog
	sessions.OnReap = svc.LogSessionReap

	solManager := sol.NewManager(svc)
	solManager.SetTimings(cfg.SOL.AccumulateInterval, cfg.SOL.RetryInterval)
	solManager.RetryCount = uint8(cfg.SOL.RetryCount)
	solManager.SendThreshold = uint8(cfg.SOL.SendThreshold)
	svc.SOL = solManager

	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP(cfg.Listen.Address), Port: cfg.Listen.Port})
	if err != nil {
		log.Fatalf("failed to bind UDP listener: %v", err)
	}
	defer conn.Close()
	svc.Conn = conn
	enablePktInfo(conn, cfg.Listen.Address)

	hostConsole, derr := net.Dial("unix", "@obmc-console")
	if derr == nil {
		svc.HostConsole = hostConsole
		defer hostConsole.Close()
	} else {
		log.WithError(derr).Warn("netipmid: host console socket unavailable, SOL host-to-remote path disabled")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("netipmid: shutting down")
		cancel()
	}()

	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				auditLog.Cleanup()
			}
		}
	}()

	if svc.HostConsole != nil {
		go pumpHostConsole(ctx, svc)
	}

	admin := server.New(cfg.Admin.Address, svc, auditLog, Version)
	adminErr := make(chan error, 1)
	go func() { adminErr <- admin.Run(ctx) }()

	log.WithFields(log.Fields{
		"listen": conn.LocalAddr(),
		"admin":  cfg.Admin.Address,
	}).Info("netipmid started")

	runEventLoop(ctx, svc, conn)

	if err := <-adminErr; err != nil {
		log.WithError(err).Error("admin surface exited with error")
	}
}

// enablePktInfo asks the kernel to attach packet destination-address
// control messages to future reads on conn, so a multi-homed daemon could
// in principle reply from the same local address a request arrived on.
// This daemon does not yet parse those control messages back out (replies
// are addressed to the request's source address via WriteToUDP, which is
// correct for the common single-homed deployment); the socket option is
// set so that capability is a later addition to the read loop, not a
// re-plumbing of the listener.
func enablePktInfo(conn *net.UDPConn, listenAddr string) {
	rawConn, err := conn.SyscallConn()
	if err != nil {
		return
	}
	isV6 := net.ParseIP(listenAddr).To4() == nil
	rawConn.Control(func(fd uintptr) {
		if isV6 {
			unix.SetsockoptInt(int(fd), unix.SOL_IPV6, unix.IPV6_RECVPKTINFO, 1)
		} else {
			unix.SetsockoptInt(int(fd), unix.SOL_IP, unix.IP_PKTINFO, 1)
		}
	})
}

// pumpHostConsole copies bytes from the local host console connection into
// whichever SOL payload instance is currently active, matching the
// original's console-socket read loop feeding sol::Manager.
func pumpHostConsole(ctx context.Context, svc *daemon.Services) {
	buf := make([]byte, 4096)
	for {
		n, err := svc.HostConsole.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.WithError(err).Warn("netipmid: host console read error")
			return
		}
		if n == 0 {
			continue
		}
		if instance, ok := svc.ActiveInstance(); ok {
			svc.SOL.WriteHostConsole(instance, append([]byte(nil), buf[:n]...))
		}
	}
}

type udpPacket struct {
	data []byte
	addr *net.UDPAddr
}

// runEventLoop is the daemon's single-threaded dispatch loop: inbound UDP
// packets, the periodic session reaper, and every active SOL instance's
// accumulate/retry timers are all handled here and nowhere else, so no
// session or SOL-context mutation ever races with another goroutine.
// Timer channels come and go as payload instances activate/deactivate and
// as timers fire and rearm, so the select set is rebuilt every iteration.
func runEventLoop(ctx context.Context, svc *daemon.Services, conn *net.UDPConn) {
	pktCh := make(chan udpPacket, 64)
	go readLoop(ctx, conn, pktCh)

	reapTicker := time.NewTicker(reapInterval)
	defer reapTicker.Stop()

	type timerKind int
	const (
		kindAccumulate timerKind = iota
		kindRetry
	)
	type timerRef struct {
		kind timerKind
		ctx  *sol.Context
	}

	for {
		cases := []reflect.SelectCase{
			{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(ctx.Done())},
			{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(pktCh)},
			{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(reapTicker.C)},
		}
		var refs []timerRef
		for _, solCtx := range svc.SOL.Instances() {
			if ch := solCtx.AccumulateTimerC(); ch != nil {
				cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(ch)})
				refs = append(refs, timerRef{kindAccumulate, solCtx})
			}
			if ch := solCtx.RetryTimerC(); ch != nil {
				cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(ch)})
				refs = append(refs, timerRef{kindRetry, solCtx})
			}
		}

		chosen, recv, ok := reflect.Select(cases)
		switch chosen {
		case 0:
			return
		case 1:
			if !ok {
				return
			}
			pkt := recv.Interface().(udpPacket)
			if out := daemon.HandleDatagram(svc, pkt.data, pkt.addr); out != nil {
				if _, werr := conn.WriteToUDP(out, pkt.addr); werr != nil {
					log.WithError(werr).Warn("netipmid: failed to send response")
				}
			}
		case 2:
			svc.Sessions.Reap()
		default:
			ref := refs[chosen-3]
			switch ref.kind {
			case kindAccumulate:
				ref.ctx.HandleAccumulateTimer()
			case kindRetry:
				ref.ctx.HandleRetryTimer()
			}
		}
	}
}

func readLoop(ctx context.Context, conn *net.UDPConn, out chan<- udpPacket) {
	buf := make([]byte, 1500)
	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.WithError(err).Warn("netipmid: UDP read error")
			continue
		}
		pkt := udpPacket{data: append([]byte(nil), buf[:n]...), addr: addr}
		select {
		case out <- pkt:
		case <-ctx.Done():
			return
		}
	}
}
