//go:build tinygo

package main

// WARNING: default -scheduler=cores unsupported, compile with -scheduler=tasks set!

import (
	"log/slog"
	"machine"
	"net/netip"
	"runtime"
	"time"

	"openenterprise/fwupdater/config"
	"openenterprise/fwupdater/credentials"
	"openenterprise/fwupdater/engine"
	"openenterprise/fwupdater/hal"
	"openenterprise/fwupdater/policy"
	"openenterprise/fwupdater/telemetry"
	"openenterprise/fwupdater/version"

	"github.com/soypat/cyw43439"
	"github.com/soypat/cyw43439/examples/cywnet"
	"github.com/soypat/lneto/x/xnet"
)

const pollTime = 5 * time.Millisecond

var requestedIP = [4]byte{192, 168, 1, 99}

// Functional watchdog state: stop feeding the watchdog once the
// device is judged unhealthy and let the hardware reset it, guarding
// the status-publish loop.
var (
	lastSuccessfulPublish time.Time
	consecutiveFailures   int
	systemHealthy         = true
)

const (
	maxConsecutiveFailures = 3
	maxHoursWithoutPublish = 12
)

var statusPublishInterval = 5 * time.Minute

// NTP tracking, used only to timestamp telemetry accurately.
var (
	lastNTPSync time.Time
	dnsServers  []netip.Addr
)

var ntpFallbackServers = []string{
	"time.cloudflare.com",
	"time.google.com",
	"pool.ntp.org",
}

func fatalError(msg string) {
	println(msg)
	systemHealthy = false
	for i := 0; i < 15; i++ {
		time.Sleep(time.Second)
	}
	println("Watchdog timeout - forcing software reset...")
	hal.Reboot()
	for {
		time.Sleep(time.Second)
	}
}

func main() {
	time.Sleep(2 * time.Second) // Give time to connect to USB and monitor output.
	println("========================================")
	println("  Firmware Update Engine")
	println("  Version:", version.Version)
	println("  Git SHA:", version.GitSHA)
	println("  Built:  ", version.BuildDate)
	println("========================================")

	logger := slog.New(telemetry.NewSlogHandler(machine.Serial, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	netLogger := slog.New(slog.NewTextHandler(machine.Serial, &slog.HandlerOptions{
		Level: slog.Level(12), // Higher than ERROR(8): suppresses network-stack noise.
	}))

	flash := hal.RP2350Flash{Base: policy.UpdaterEnd + 1}
	gpio := hal.NewRP2350GPIO()
	eng := engine.New(flash, gpio, logger)

	indicatorLogger = logger
	go runIndicator(eng)

	machine.Watchdog.Configure(machine.WatchdogConfig{
		TimeoutMillis: 8000,
	})
	machine.Watchdog.Start()
	logger.Info("init:watchdog-started")

	shortSHA := version.GitSHA
	if len(shortSHA) > 7 {
		shortSHA = shortSHA[:7]
	}
	logger.Info("init:complete", slog.String("version", version.Version), slog.String("sha", shortSHA))

	brokerAddr, err := config.BrokerAddr()
	if err != nil {
		logger.Error("config:broker-invalid", slog.String("err", err.Error()))
		fatalError("Invalid broker address - waiting for reset...")
	}
	logger.Info("config:broker", slog.String("addr", brokerAddr.String()))

	devcfg := cyw43439.DefaultWifiConfig()
	devcfg.Logger = netLogger
	cystack, err := cywnet.NewConfiguredPicoWithStack(
		credentials.SSID(),
		credentials.Password(),
		devcfg,
		cywnet.StackConfig{
			Hostname:    "fwupdater",
			MaxTCPPorts: 3, // bus bridge + debug console + MQTT publisher
		},
	)
	if err != nil {
		logger.Error("wifi:setup-failed", slog.String("err", err.Error()))
		fatalError("WiFi setup failed - waiting for reset...")
	}

	go loopForeverStack(cystack)

	dhcpResults, err := cystack.SetupWithDHCP(cywnet.DHCPConfig{
		RequestedAddr: netip.AddrFrom4(requestedIP),
	})
	if err != nil {
		logger.Error("dhcp:failed", slog.String("err", err.Error()))
		fatalError("DHCP failed - waiting for reset...")
	}
	logger.Info("dhcp:complete", slog.String("addr", dhcpResults.AssignedAddr.String()))
	dnsServers = dhcpResults.DNSServers

	stack := cystack.LnetoStack()

	logger.Info("ntp:init", slog.String("server", config.NTPServer()))
	if _, err := syncNTP(stack, dnsServers, logger); err != nil {
		logger.Warn("ntp:init-failed", slog.String("err", err.Error()))
	}

	collectorAddr, err := config.TelemetryCollectorAddr()
	if err != nil {
		logger.Warn("telemetry:config-invalid", slog.String("err", err.Error()))
	} else if err := telemetry.Init(stack, logger, collectorAddr); err != nil {
		logger.Warn("telemetry:init-failed", slog.String("err", err.Error()))
	}

	busServer := newBusServer(config.BusServerPort(), eng, logger)
	busServer.Start(stack)

	go consoleServer(stack, eng, logger)

	lastSuccessfulPublish = time.Now()

	for {
		feedWatchdogIfHealthy()

		telemetry.GenerateTraceID(stack)
		cycleSpanIdx := telemetry.StartSpan(stack, "status-publish")

		if err := publishStatus(stack, brokerAddr, eng, logger); err != nil {
			logger.Error("mqtt:publish-failed", slog.String("err", err.Error()))
			telemetry.EndSpan(cycleSpanIdx, false)
			consecutiveFailures++
			checkSystemHealth(logger)
		} else {
			telemetry.EndSpan(cycleSpanIdx, true)
			consecutiveFailures = 0
			lastSuccessfulPublish = time.Now()
		}

		feedWatchdogIfHealthy()
		sleepWithWatchdog(statusPublishInterval)
	}
}

func feedWatchdogIfHealthy() {
	if systemHealthy {
		machine.Watchdog.Update()
	}
}

func checkSystemHealth(logger *slog.Logger) {
	if consecutiveFailures >= maxConsecutiveFailures {
		logger.Error("watchdog:unhealthy", slog.String("reason", "max consecutive failures"), slog.Int("failures", consecutiveFailures))
		systemHealthy = false
		return
	}
	hoursSincePublish := time.Since(lastSuccessfulPublish).Hours()
	if hoursSincePublish >= maxHoursWithoutPublish {
		logger.Error("watchdog:unhealthy", slog.String("reason", "max hours without publish"), slog.Float64("hours", hoursSincePublish))
		systemHealthy = false
	}
}

func loopForeverStack(stack *cywnet.Stack) {
	var count int
	for {
		send, recv, _ := stack.RecvAndSend()
		if send == 0 && recv == 0 {
			time.Sleep(pollTime)
		}
		count++
		if count >= 100 {
			feedWatchdogIfHealthy()
			count = 0
		}
	}
}

// syncNTP times out non-fatally: it only affects telemetry timestamp
// accuracy, never the engine's own operation.
func syncNTP(stack *xnet.StackAsync, dnsServers []netip.Addr, logger *slog.Logger) (time.Duration, error) {
	servers := []string{config.NTPServer()}
	for _, fallback := range ntpFallbackServers {
		if fallback != servers[0] {
			servers = append(servers, fallback)
		}
	}

	rstack := stack.StackRetrying(pollTime)
	var lastErr error
	backoff := 500 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for _, ntpHost := range servers {
		logger.Info("ntp:trying", slog.String("server", ntpHost))
		feedWatchdogIfHealthy()
		time.Sleep(100 * time.Millisecond)

		addrs, err := rstack.DoLookupIP(ntpHost, 5*time.Second, 2)
		if err != nil {
			logger.Warn("ntp:dns-failed", slog.String("server", ntpHost), slog.String("err", err.Error()))
			lastErr = err
			sleepWithWatchdog(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		for i, addr := range addrs {
			feedWatchdogIfHealthy()
			time.Sleep(200 * time.Millisecond)

			offset, err := rstack.DoNTP(addr, 5*time.Second, 3)
			if err != nil {
				logger.Warn("ntp:addr-failed", slog.String("addr", addr.String()), slog.Int("attempt", i+1), slog.String("err", err.Error()))
				lastErr = err
				sleepWithWatchdog(backoff)
				backoff *= 2
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
				continue
			}

			runtime.AdjustTimeOffset(int64(offset))
			lastNTPSync = time.Now()
			logger.Info("ntp:synced", slog.String("server", ntpHost), slog.Duration("offset", offset))
			return offset, nil
		}
	}

	logger.Error("ntp:all-failed", slog.Int("servers_tried", len(servers)))
	return 0, lastErr
}

func sleepWithWatchdog(d time.Duration) {
	for d > 0 {
		chunk := 2 * time.Second
		if d < chunk {
			chunk = d
		}
		time.Sleep(chunk)
		feedWatchdogIfHealthy()
		d -= chunk
	}
}
