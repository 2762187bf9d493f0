// Command fwupdate-cli is the host-side bus client: it dials the TCP
// bridge a device exposes in place of its physical bus (spec §1, §6)
// and drives the command engine one frame at a time, plus a "push"
// subcommand that walks a raw binary through the full erase/stream/
// program/update-boot-desc sequence described in spec §8.
package main

import (
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"openenterprise/fwupdater/crc"
	"openenterprise/fwupdater/engine"
	"openenterprise/fwupdater/errcode"
	"openenterprise/fwupdater/frame"
	"openenterprise/fwupdater/lock"

	"golang.org/x/term"
)

const (
	defaultPort    = "4242"
	dialTimeout    = 10 * time.Second
	replyTimeout   = 5 * time.Second
	sendDataChunk  = 15 // spec §4.2: SEND_DATA's payload caps at 15 bytes
	descBlockBytes = 4096
)

func main() {
	host := flag.String("host", "", "Device IP address (required)")
	port := flag.String("port", defaultPort, "Bus bridge TCP port")
	flag.Parse()

	if *host == "" {
		if flag.NArg() == 0 {
			printUsage()
			os.Exit(1)
		}
	}
	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}
	cmd := args[0]
	rest := args[1:]

	addr := net.JoinHostPort(*host, *port)
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		fatalf("connect failed: %v", err)
	}
	defer conn.Close()

	if err := runCommand(conn, cmd, rest); err != nil {
		fatalf("%v", err)
	}
}

func printUsage() {
	fmt.Println("fwupdate-cli -host <ip> [-port 4242] <command> [args...]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  unlock <uid-hex>                 Unlock using the chip's UID (prompts if omitted)")
	fmt.Println("  erase <sector>                    ERASE_SECTOR")
	fmt.Println("  send <hex-bytes>                  SEND_DATA (<=15 bytes)")
	fmt.Println("  program <count> <addr> <crc>       PROGRAM")
	fmt.Println("  update-boot-desc <crc> <slot>      UPDATE_BOOT_DESC")
	fmt.Println("  get-last-error                     GET_LAST_ERROR")
	fmt.Println("  request-uid                        REQUEST_UID")
	fmt.Println("  app-version                        APP_VERSION_REQUEST")
	fmt.Println("  set-emulation <mask>                SET_EMULATION")
	fmt.Println("  push <file> <addr> <slot>          Full program cycle from a raw binary")
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}

func runCommand(conn net.Conn, cmd string, args []string) error {
	switch cmd {
	case "unlock":
		var uidHex string
		if len(args) > 0 {
			uidHex = args[0]
		} else {
			uidHex = promptHex("UID prefix (hex, up to 12 bytes): ")
		}
		prefix, err := parseUIDPrefix(uidHex)
		if err != nil {
			return err
		}
		return doUnlock(conn, prefix)

	case "erase":
		if len(args) != 1 {
			return errors.New("usage: erase <sector>")
		}
		sector, err := strconv.ParseUint(args[0], 10, 32)
		if err != nil {
			return fmt.Errorf("bad sector: %w", err)
		}
		return doErase(conn, uint32(sector))

	case "send":
		if len(args) != 1 {
			return errors.New("usage: send <hex-bytes>")
		}
		data, err := hex.DecodeString(args[0])
		if err != nil {
			return fmt.Errorf("bad hex: %w", err)
		}
		if len(data) > sendDataChunk {
			return fmt.Errorf("payload exceeds %d bytes", sendDataChunk)
		}
		return doSendData(conn, data)

	case "program":
		if len(args) != 3 {
			return errors.New("usage: program <count> <addr> <crc>")
		}
		count, addr, c, err := parseU32Triple(args)
		if err != nil {
			return err
		}
		return doProgram(conn, count, addr, c)

	case "update-boot-desc":
		if len(args) != 2 {
			return errors.New("usage: update-boot-desc <crc> <slot>")
		}
		c, err := strconv.ParseUint(args[0], 10, 32)
		if err != nil {
			return fmt.Errorf("bad crc: %w", err)
		}
		slot, err := strconv.ParseUint(args[1], 10, 8)
		if err != nil {
			return fmt.Errorf("bad slot: %w", err)
		}
		return doUpdateBootDesc(conn, uint32(c), uint8(slot))

	case "get-last-error":
		code, err := doGetLastError(conn)
		if err != nil {
			return err
		}
		fmt.Println(code.String())
		return nil

	case "request-uid":
		uid, err := doRequestUID(conn)
		if err != nil {
			return err
		}
		fmt.Printf("%x\n", uid)
		return nil

	case "app-version":
		version, err := doAppVersion(conn)
		if err != nil {
			return err
		}
		fmt.Println(version)
		return nil

	case "set-emulation":
		if len(args) != 1 {
			return errors.New("usage: set-emulation <mask>")
		}
		mask, err := strconv.ParseUint(args[0], 10, 8)
		if err != nil {
			return fmt.Errorf("bad mask: %w", err)
		}
		return doSetEmulation(conn, uint8(mask))

	case "push":
		if len(args) != 3 {
			return errors.New("usage: push <file> <addr> <slot>")
		}
		addr, err := strconv.ParseUint(args[1], 10, 32)
		if err != nil {
			return fmt.Errorf("bad addr: %w", err)
		}
		slot, err := strconv.ParseUint(args[2], 10, 8)
		if err != nil {
			return fmt.Errorf("bad slot: %w", err)
		}
		return doPush(conn, args[0], uint32(addr), uint8(slot))

	default:
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

// buildFrame assembles a raw inbound envelope using the same layout
// frame.Decode expects: a count nibble at InboundOffsetCount, opcode
// at InboundOffsetOpcode, payload starting at InboundOffsetPayload,
// padded to frame.InboundFrameSize.
func buildFrame(opcode uint8, payload []byte) []byte {
	raw := make([]byte, frame.InboundFrameSize)
	raw[frame.InboundOffsetCount] = byte(len(payload)) & 0x0F
	raw[frame.InboundOffsetOpcode] = opcode
	copy(raw[frame.InboundOffsetPayload:], payload)
	return raw
}

// exchange writes one frame, reads the ack/nack byte, and, when the
// opcode is one of the three reply-producing commands, reads the
// reply frame too.
func exchange(conn net.Conn, opcode uint8, payload []byte, wantsReply bool) (ok bool, reply []byte, err error) {
	raw := buildFrame(opcode, payload)
	if _, err := conn.Write(raw); err != nil {
		return false, nil, fmt.Errorf("write: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(replyTimeout))
	status := make([]byte, 1)
	if _, err := readFull(conn, status); err != nil {
		return false, nil, fmt.Errorf("read ack: %w", err)
	}
	ok = status[0] == frame.AckByte

	if ok && wantsReply {
		header := make([]byte, frame.ReplyHeaderLen)
		if _, err := readFull(conn, header); err != nil {
			return ok, nil, fmt.Errorf("read reply header: %w", err)
		}
		payloadLen := frame.ReplyPayloadLen(header)
		if payloadLen < 0 {
			return ok, nil, fmt.Errorf("bad reply length byte")
		}
		full := make([]byte, frame.ReplyHeaderLen+payloadLen)
		copy(full, header)
		if payloadLen > 0 {
			if _, err := readFull(conn, full[frame.ReplyHeaderLen:]); err != nil {
				return ok, nil, fmt.Errorf("read reply payload: %w", err)
			}
		}
		return ok, full, nil
	}
	return ok, nil, nil
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func doUnlock(conn net.Conn, prefix [lock.UIDPrefixLen]byte) error {
	ok, _, err := exchange(conn, engine.OpUnlockDevice, prefix[:], false)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("unlock refused")
	}
	fmt.Println("unlocked")
	return nil
}

func doErase(conn net.Conn, sector uint32) error {
	payload := []byte{byte(sector)}
	ok, _, err := exchange(conn, engine.OpEraseSector, payload, false)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("erase refused")
	}
	return nil
}

func doSendData(conn net.Conn, data []byte) error {
	ok, _, err := exchange(conn, engine.OpSendData, data, false)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("send-data refused")
	}
	return nil
}

func doProgram(conn net.Conn, count, addr, c uint32) error {
	payload := make([]byte, 12)
	frame.PutU32BE(payload[0:4], count)
	frame.PutU32BE(payload[4:8], addr)
	frame.PutU32BE(payload[8:12], c)
	ok, _, err := exchange(conn, engine.OpProgram, payload, false)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("program refused")
	}
	return nil
}

func doUpdateBootDesc(conn net.Conn, c uint32, slot uint8) error {
	payload := make([]byte, 5)
	frame.PutU32BE(payload[0:4], c)
	payload[4] = slot
	ok, _, err := exchange(conn, engine.OpUpdateBootDesc, payload, false)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("update-boot-desc refused")
	}
	return nil
}

func doGetLastError(conn net.Conn) (errcode.Kind, error) {
	ok, reply, err := exchange(conn, engine.OpGetLastError, nil, true)
	if err != nil {
		return 0, err
	}
	if !ok || len(reply) < frame.ReplyHeaderLen+4 {
		return 0, errors.New("get-last-error: no reply")
	}
	// The reply payload is little-endian, unlike every other
	// multi-byte field on the wire (spec §4.6).
	p := reply[frame.ReplyHeaderLen:]
	code := uint32(p[0]) | uint32(p[1])<<8 | uint32(p[2])<<16 | uint32(p[3])<<24
	return errcode.Kind(code), nil
}

func doRequestUID(conn net.Conn) ([]byte, error) {
	ok, reply, err := exchange(conn, engine.OpRequestUID, nil, true)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.New("request-uid refused")
	}
	if len(reply) < frame.ReplyHeaderLen+lock.UIDPrefixLen {
		return nil, errors.New("request-uid: short reply")
	}
	return reply[frame.ReplyHeaderLen : frame.ReplyHeaderLen+lock.UIDPrefixLen], nil
}

func doAppVersion(conn net.Conn) (string, error) {
	ok, reply, err := exchange(conn, engine.OpAppVersion, nil, true)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", errors.New("app-version refused")
	}
	return fmt.Sprintf("%x", reply[frame.ReplyHeaderLen:]), nil
}

func doSetEmulation(conn net.Conn, mask uint8) error {
	ok, _, err := exchange(conn, engine.OpSetEmulation, []byte{mask}, false)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("set-emulation refused")
	}
	return nil
}

// doPush streams a raw binary through the full spec §8 happy-path
// cycle: erase every sector the image covers, stream it in
// sendDataChunk pieces while folding a running CRC, then PROGRAM and
// UPDATE_BOOT_DESC with that CRC.
func doPush(conn net.Conn, path string, addr uint32, slot uint8) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read firmware: %w", err)
	}

	firstSector := addr / descBlockBytes
	lastSector := (addr + uint32(len(data)) - 1) / descBlockBytes
	for s := firstSector; s <= lastSector; s++ {
		fmt.Printf("erasing sector %d\n", s)
		if err := doErase(conn, s); err != nil {
			return err
		}
	}

	running := crc.Seed
	for off := 0; off < len(data); off += sendDataChunk {
		end := off + sendDataChunk
		if end > len(data) {
			end = len(data)
		}
		chunk := data[off:end]
		if err := doSendData(conn, chunk); err != nil {
			return fmt.Errorf("send-data at %d: %w", off, err)
		}
		running = crc.Update(running, chunk)
	}

	fmt.Printf("programming %d bytes at 0x%08x (crc=0x%08x)\n", len(data), addr, running)
	if err := doProgram(conn, uint32(len(data)), addr, running); err != nil {
		return err
	}

	fmt.Printf("updating boot descriptor slot %d\n", slot)
	if err := doUpdateBootDesc(conn, running, slot); err != nil {
		return err
	}

	fmt.Println("push complete")
	return nil
}

func parseU32Triple(args []string) (a, b, c uint32, err error) {
	av, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("bad count: %w", err)
	}
	bv, err := strconv.ParseUint(args[1], 10, 32)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("bad addr: %w", err)
	}
	cv, err := strconv.ParseUint(args[2], 10, 32)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("bad crc: %w", err)
	}
	return uint32(av), uint32(bv), uint32(cv), nil
}

func parseUIDPrefix(s string) ([lock.UIDPrefixLen]byte, error) {
	var out [lock.UIDPrefixLen]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("bad hex: %w", err)
	}
	if len(b) > lock.UIDPrefixLen {
		b = b[:lock.UIDPrefixLen]
	}
	copy(out[:], b)
	return out, nil
}

func promptHex(prompt string) string {
	fmt.Print(prompt)
	if term.IsTerminal(int(os.Stdin.Fd())) {
		line, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		if err == nil {
			return string(line)
		}
	}
	var s string
	fmt.Scanln(&s)
	return s
}
