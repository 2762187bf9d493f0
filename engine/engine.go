// Package engine implements the command engine: the protocol state
// machine that decodes inbound bus frames, dispatches them against the
// staging buffer, the lock manager, and the flash driver, and reports
// a last-error register readable via GET_LAST_ERROR.
package engine

import (
	"log/slog"

	"openenterprise/fwupdater/crc"
	"openenterprise/fwupdater/descriptor"
	"openenterprise/fwupdater/errcode"
	"openenterprise/fwupdater/frame"
	"openenterprise/fwupdater/hal"
	"openenterprise/fwupdater/lock"
	"openenterprise/fwupdater/policy"
	"openenterprise/fwupdater/staging"
)

// BootBlockSize is the boot descriptor's on-flash footprint, one full
// sector, so each descriptor slot can be erased independently of its
// neighbors.
const BootBlockSize = policy.SectorSize

// MaxDescriptorSlots bounds UPDATE_BOOT_DESC's slot field. The slots
// occupy FirstDescriptorSector and the sectors immediately below it,
// counting down, so they never collide with the updater's own
// reservation.
const MaxDescriptorSlots = 4

// FirstDescriptorSector is the highest sector index a descriptor slot
// ever occupies; slot 0 lives here, slot 1 immediately below it, and
// so on. Recorded in DESIGN.md.
const FirstDescriptorSector = 0xFF

// Engine owns every piece of command-table state: the lock, the
// staging buffer, the running CRC, the last-error register, the
// emulation mask, and which descriptor slot APP_VERSION_REQUEST
// currently answers from.
type Engine struct {
	Flash hal.FlashDriver
	GPIO  hal.GPIO
	Log   *slog.Logger

	lock         lock.Manager
	staging      staging.Buffer
	runningCRC   uint32
	lastError    errcode.Kind
	emulation    uint8
	selectedSlot uint8
}

// New returns an Engine ready to accept frames. log may be nil,
// consistent with the nil-safe logger convention used throughout this
// codebase.
func New(flash hal.FlashDriver, gpio hal.GPIO, log *slog.Logger) *Engine {
	return &Engine{
		Flash:      flash,
		GPIO:       gpio,
		Log:        log,
		runningCRC: crc.Seed,
	}
}

// LastError reports the last-error register's current value without
// consuming it, for telemetry and the debug console.
func (e *Engine) LastError() errcode.Kind {
	return e.lastError
}

// Locked reports the lock manager's current state.
func (e *Engine) Locked() bool {
	return e.lock.IsLocked()
}

// Dispatch decodes one inbound frame, executes it, and returns
// whether to ack, plus an outbound reply frame for the three
// reply-producing commands (GET_LAST_ERROR, REQUEST_UID,
// APP_VERSION_REQUEST). reply is nil for every other command,
// including a nacked one: only a successful reply-producing command
// emits a reply frame, and a nack carries no payload of its own. The
// client learns the code via a subsequent GET_LAST_ERROR.
func (e *Engine) Dispatch(raw []byte) (ack bool, reply []byte) {
	cmd := decodeCommand(raw)
	reply = e.execute(cmd)
	ack = e.lastError.IsSuccess()
	if e.Log != nil {
		e.Log.Debug("dispatch", "opcode", cmd.Opcode(), "ack", ack, "lastError", e.lastError.String())
	}
	return ack, reply
}

func (e *Engine) execute(cmd Command) (reply []byte) {
	switch c := cmd.(type) {
	case EraseSectorCmd:
		e.lastError = e.eraseSector(c.Sector)

	case SendDataCmd:
		e.lastError = e.sendData(c.Data)

	case ProgramCmd:
		e.lastError = e.program(c)

	case UpdateBootDescCmd:
		e.lastError = e.updateBootDesc(c)

	case ReqDataCmd:
		if e.lock.IsLocked() {
			e.lastError = errcode.DeviceLocked
		} else {
			e.lastError = errcode.NotImplemented
		}

	case GetLastErrorCmd:
		code := e.lastError
		e.lastError = errcode.Success
		return frame.BuildReply(frame.OpLastErrorResp, frame.LastErrorPayload(uint32(code)))

	case UnlockDeviceCmd:
		e.lastError = e.unlock(c.UIDPrefix)

	case RequestUIDCmd:
		code, payload := e.requestUID()
		e.lastError = code
		if code.IsSuccess() {
			return frame.BuildReply(frame.OpResponseUID, payload)
		}

	case AppVersionCmd:
		code, payload := e.appVersion()
		e.lastError = code
		if code.IsSuccess() {
			return frame.BuildReply(frame.OpAppVersionResp, payload)
		}

	case SetEmulationCmd:
		e.emulation = c.Mask
		e.lastError = errcode.Success

	default:
		e.lastError = errcode.UnknownCommand
	}
	return nil
}

// emulationActive reports whether SET_EMULATION's low nibble is set.
// While active, ERASE_SECTOR, PROGRAM, and UPDATE_BOOT_DESC skip the
// flash driver's erase and program calls and report success in their
// place. The lock, policy, CRC and descriptor checks still run first
// and can still refuse the command; UPDATE_BOOT_DESC's descriptor
// check still reads the application image from flash.
func (e *Engine) emulationActive() bool {
	return e.emulation&0x0F != 0
}

func (e *Engine) eraseSector(sector uint32) errcode.Kind {
	if e.lock.IsLocked() {
		return errcode.DeviceLocked
	}
	if !policy.SectorErasable(sector) {
		return errcode.SectorNotAllowed
	}
	if e.emulationActive() {
		e.staging.Reset()
		e.runningCRC = crc.Seed
		return errcode.Success
	}
	status, err := e.Flash.EraseSector(sector)
	code := driverResult(status, err)
	if code.IsSuccess() {
		e.staging.Reset()
		e.runningCRC = crc.Seed
	}
	return code
}

func (e *Engine) sendData(data []byte) errcode.Kind {
	if e.lock.IsLocked() {
		return errcode.DeviceLocked
	}
	if !e.staging.Append(data) {
		return errcode.RAMOverflow
	}
	e.runningCRC = crc.Update(e.runningCRC, data)
	return errcode.Success
}

// endCommitEpisode resets the staging cursor and running CRC seed,
// the transition the state diagram calls re-entering IDLE. It fires on
// every exit from PROGRAM or UPDATE_BOOT_DESC once past the lock
// check, success or failure alike, because a commit was attempted and
// the client must re-ERASE_SECTOR and re-stream before trying again.
func (e *Engine) endCommitEpisode() {
	e.staging.Reset()
	e.runningCRC = crc.Seed
}

func (e *Engine) program(c ProgramCmd) errcode.Kind {
	if e.lock.IsLocked() {
		return errcode.DeviceLocked
	}
	if !policy.RangeProgrammable(c.Address, c.Count) {
		e.endCommitEpisode()
		return errcode.AddressNotAllowed
	}
	if e.runningCRC != c.CRC {
		e.endCommitEpisode()
		return errcode.CRCError
	}
	data := e.staging.Slice(int(c.Count))
	defer e.endCommitEpisode()

	if e.emulationActive() {
		return errcode.Success
	}
	status, err := e.Flash.Program(c.Address, data)
	return driverResult(status, err)
}

func (e *Engine) updateBootDesc(c UpdateBootDescCmd) errcode.Kind {
	if e.lock.IsLocked() {
		return errcode.DeviceLocked
	}
	if c.Slot >= MaxDescriptorSlots {
		e.endCommitEpisode()
		return errcode.WrongDescriptorBlock
	}
	if e.runningCRC != c.CRC {
		e.endCommitEpisode()
		return errcode.CRCError
	}
	block := e.staging.Slice(descriptor.Size)
	defer e.endCommitEpisode()

	d := descriptor.Parse(block)
	if !descriptor.Validate(d, e.Flash) {
		return errcode.AppNotStartable
	}

	addr := descriptorSlotAddress(c.Slot)
	if e.emulationActive() {
		e.selectedSlot = c.Slot
		return errcode.Success
	}
	eraseStatus, eraseErr := e.Flash.ErasePage(addr)
	if code := driverResult(eraseStatus, eraseErr); !code.IsSuccess() {
		return code
	}
	status, err := e.Flash.Program(addr, block)
	code := driverResult(status, err)
	if code.IsSuccess() {
		e.selectedSlot = c.Slot
	}
	return code
}

func (e *Engine) unlock(framePrefix [lock.UIDPrefixLen]byte) errcode.Kind {
	asserted := e.GPIO.ProgramPinAsserted()
	var uid [16]byte
	if !asserted {
		id, err := e.Flash.ReadUniqueID()
		if err != nil {
			return errcode.UIDMismatch
		}
		uid = id
	}
	return e.lock.Unlock(asserted, uid, framePrefix)
}

// requestUID answers REQUEST_UID: it requires the program pin
// asserted but not the lock open. There is no dedicated error code for
// "pin not asserted", so DEVICE_LOCKED is reused, being the table's
// only code for an authorization gate refusing a command.
func (e *Engine) requestUID() (errcode.Kind, []byte) {
	if !e.GPIO.ProgramPinAsserted() {
		return errcode.DeviceLocked, nil
	}
	uid, err := e.Flash.ReadUniqueID()
	if err != nil {
		return errcode.UnknownCommand, nil
	}
	return errcode.Success, uid[:lock.UIDPrefixLen]
}

// appVersion answers APP_VERSION_REQUEST from whichever slot was most
// recently committed via UPDATE_BOOT_DESC, defaulting to slot 0 on a
// freshly reset engine.
func (e *Engine) appVersion() (errcode.Kind, []byte) {
	addr := descriptorSlotAddress(e.selectedSlot)
	block := make([]byte, descriptor.Size)
	if err := e.Flash.ReadFlash(addr, block); err != nil {
		return errcode.AppNotStartable, nil
	}
	d := descriptor.Parse(block)
	if !descriptor.AppVersionAddressAllowed(d) {
		return errcode.AppNotStartable, nil
	}
	version, err := descriptor.AppVersion(d, e.Flash)
	if err != nil {
		return errcode.AppNotStartable, nil
	}
	return errcode.Success, version[:]
}

// descriptorSlotAddress maps a slot index to its sector's base
// address: slot 0 at FirstDescriptorSector, counting down so slots
// never encroach on the updater's own reservation. policy.UpdaterEnd
// sits far below FirstDescriptorSector on this target.
func descriptorSlotAddress(slot uint8) uint32 {
	return (FirstDescriptorSector - uint32(slot)) * BootBlockSize
}

// driverResult maps a flash driver's own status/error pair onto the
// protocol's last-error register. A nil error with a zero status is
// success; a nil error with a nonzero status is a device-specific code
// the engine passes through unchanged. A non-nil error is a
// transport-level fault talking to the driver itself, reported as
// UNKNOWN_COMMAND since the protocol has no dedicated code for it.
func driverResult(status uint32, err error) errcode.Kind {
	if err != nil {
		return errcode.UnknownCommand
	}
	if status == 0 {
		return errcode.Success
	}
	return errcode.Kind(status)
}
