//go:build tinygo

package main

import (
	"errors"
	"log/slog"
	"net/netip"
	"time"

	"openenterprise/fwupdater/config"
	"openenterprise/fwupdater/engine"

	"github.com/soypat/lneto/tcp"
	"github.com/soypat/lneto/x/xnet"
	mqtt "github.com/soypat/natiu-mqtt"
)

const (
	mqttTimeout = 10 * time.Second
	mqttRetries = 3
	tcpBufSize  = 2030 // MTU - ethhdr - iphdr - tcphdr
	mqttBufSize = 256
)

var topicStatus = []byte("fwupdater/status")

// Pre-allocated buffers, reused across publish cycles to avoid
// per-cycle heap allocation.
var (
	mqttTCPRxBuf [tcpBufSize]byte
	mqttTCPTxBuf [tcpBufSize]byte
	mqttUserBuf  [mqttBufSize]byte
	statusBuf    [64]byte
)

var pubFlags, _ = mqtt.NewPublishFlags(mqtt.QoS0, false, false)

// publishStatus dials the broker, connects, publishes one status
// message describing the engine's current lock state and last error,
// and disconnects. This is a one-way heartbeat, not a request/response
// exchange, so there is no subscribe or wait-for-response step.
func publishStatus(stack *xnet.StackAsync, brokerAddr netip.AddrPort, eng *engine.Engine, logger *slog.Logger) error {
	rstack := stack.StackRetrying(5 * time.Millisecond)

	var conn tcp.Conn
	if err := conn.Configure(tcp.ConnConfig{
		RxBuf:             mqttTCPRxBuf[:],
		TxBuf:             mqttTCPTxBuf[:],
		TxPacketQueueSize: 3,
	}); err != nil {
		return err
	}

	cfg := mqtt.ClientConfig{
		Decoder: mqtt.DecoderNoAlloc{UserBuffer: mqttUserBuf[:]},
	}
	var varconn mqtt.VariablesConnect
	clientID := make([]byte, 0, 32)
	clientID = append(clientID, config.ClientID()...)
	varconn.SetDefaultMQTT(clientID)
	client := mqtt.NewClient(cfg)

	lport := uint16(stack.Prand32()>>17) + 1024
	logger.Info("mqtt:dialing", slog.String("broker", brokerAddr.String()))

	if err := rstack.DoDialTCP(&conn, lport, brokerAddr, mqttTimeout, mqttRetries); err != nil {
		logger.Error("mqtt:dial-failed", slog.String("err", err.Error()))
		closeMQTTConn(&conn, stack, brokerAddr)
		return err
	}

	conn.SetDeadline(time.Now().Add(mqttTimeout))
	if err := client.StartConnect(&conn, &varconn); err != nil {
		logger.Error("mqtt:start-connect-failed", slog.String("err", err.Error()))
		closeMQTTConn(&conn, stack, brokerAddr)
		return err
	}

	retries := 50
	for retries > 0 && !client.IsConnected() {
		time.Sleep(100 * time.Millisecond)
		client.HandleNext()
		retries--
	}
	if !client.IsConnected() {
		logger.Error("mqtt:connect-timeout")
		closeMQTTConn(&conn, stack, brokerAddr)
		return errors.New("mqtt connect timeout")
	}

	payload := encodeStatus(eng)
	conn.SetDeadline(time.Now().Add(mqttTimeout))
	pubVar := mqtt.VariablesPublish{
		TopicName:        topicStatus,
		PacketIdentifier: uint16(stack.Prand32()),
	}
	if err := client.PublishPayload(pubFlags, pubVar, payload); err != nil {
		logger.Error("mqtt:publish-failed", slog.String("err", err.Error()))
		closeMQTTConn(&conn, stack, brokerAddr)
		return err
	}
	logger.Info("mqtt:published", slog.String("topic", string(topicStatus)))

	client.Disconnect(errors.New("status published"))
	closeMQTTConn(&conn, stack, brokerAddr)
	return nil
}

// encodeStatus packs a compact status line, "locked=<1|0>
// lastError=<name>", built without fmt, into statusBuf, to avoid a
// per-publish allocation.
func encodeStatus(eng *engine.Engine) []byte {
	b := statusBuf[:0]
	b = append(b, "locked="...)
	if eng.Locked() {
		b = append(b, '1')
	} else {
		b = append(b, '0')
	}
	b = append(b, " lastError="...)
	b = append(b, eng.LastError().String()...)
	return b
}

func closeMQTTConn(conn *tcp.Conn, stack *xnet.StackAsync, addr netip.AddrPort) {
	conn.Close()
	for i := 0; i < 50 && !conn.State().IsClosed(); i++ {
		time.Sleep(100 * time.Millisecond)
	}
	conn.Abort()
	stack.DiscardResolveHardwareAddress6(addr.Addr())
}
