//go:build tinygo

package hal

/*
#include <stdint.h>
#include <stddef.h>

#define ROM_TABLE_CODE(c1, c2) ((c1) | ((c2) << 8))

#define ROM_FUNC_CONNECT_INTERNAL_FLASH ROM_TABLE_CODE('I', 'F')
#define ROM_FUNC_FLASH_EXIT_XIP         ROM_TABLE_CODE('E', 'X')
#define ROM_FUNC_FLASH_RANGE_ERASE      ROM_TABLE_CODE('R', 'E')
#define ROM_FUNC_FLASH_RANGE_PROGRAM    ROM_TABLE_CODE('R', 'P')
#define ROM_FUNC_FLASH_FLUSH_CACHE      ROM_TABLE_CODE('F', 'C')
#define ROM_FUNC_OTP_ACCESS             ROM_TABLE_CODE('O', 'A')

#define BOOTROM_FUNC_TABLE_OFFSET   0x14
#define BOOTROM_WELL_KNOWN_PTR_SIZE 2
#define BOOTROM_TABLE_LOOKUP_OFFSET (BOOTROM_FUNC_TABLE_OFFSET + BOOTROM_WELL_KNOWN_PTR_SIZE)

#define RT_FLAG_FUNC_ARM_SEC 0x0004

#define FLASH_SECTOR_SIZE      4096
#define FLASH_SECTOR_ERASE_CMD 0x20

typedef void *(*rom_table_lookup_fn)(uint32_t code, uint32_t mask);
typedef void (*flash_connect_internal_fn)(void);
typedef void (*flash_exit_xip_fn)(void);
typedef void (*flash_range_erase_fn)(uint32_t addr, size_t count, uint32_t block_size, uint8_t block_cmd);
typedef void (*flash_range_program_fn)(uint32_t addr, const uint8_t *data, size_t count);
typedef void (*flash_flush_cache_fn)(void);

__attribute__((always_inline))
static void *rom_func_lookup_inline(uint32_t code) {
    rom_table_lookup_fn rom_table_lookup =
        (rom_table_lookup_fn)(uintptr_t)*(uint16_t*)(BOOTROM_TABLE_LOOKUP_OFFSET);
    return rom_table_lookup(code, RT_FLAG_FUNC_ARM_SEC);
}

// hal_flash_program writes data to flash at the given raw offset,
// bypassing TinyGo's machine.Flash (which assumes a different base
// offset than this firmware's single-image flash layout expects).
static void hal_flash_program(uint32_t offset, const uint8_t *data, uint32_t len) {
    flash_connect_internal_fn connect = (flash_connect_internal_fn)rom_func_lookup_inline(ROM_FUNC_CONNECT_INTERNAL_FLASH);
    flash_exit_xip_fn exit_xip = (flash_exit_xip_fn)rom_func_lookup_inline(ROM_FUNC_FLASH_EXIT_XIP);
    flash_range_program_fn program = (flash_range_program_fn)rom_func_lookup_inline(ROM_FUNC_FLASH_RANGE_PROGRAM);
    flash_flush_cache_fn flush = (flash_flush_cache_fn)rom_func_lookup_inline(ROM_FUNC_FLASH_FLUSH_CACHE);
    if (!connect || !exit_xip || !program || !flush) return;

    uint32_t status;
    __asm__ volatile ("mrs %0, primask" : "=r" (status));
    __asm__ volatile ("cpsid i");

    connect();
    exit_xip();
    program(offset, data, len);
    flush();

    __asm__ volatile ("msr primask, %0" : : "r" (status));
}

static void hal_flash_erase(uint32_t offset, uint32_t count) {
    flash_connect_internal_fn connect = (flash_connect_internal_fn)rom_func_lookup_inline(ROM_FUNC_CONNECT_INTERNAL_FLASH);
    flash_exit_xip_fn exit_xip = (flash_exit_xip_fn)rom_func_lookup_inline(ROM_FUNC_FLASH_EXIT_XIP);
    flash_range_erase_fn erase = (flash_range_erase_fn)rom_func_lookup_inline(ROM_FUNC_FLASH_RANGE_ERASE);
    flash_flush_cache_fn flush = (flash_flush_cache_fn)rom_func_lookup_inline(ROM_FUNC_FLASH_FLUSH_CACHE);
    if (!connect || !exit_xip || !erase || !flush) return;

    uint32_t status;
    __asm__ volatile ("mrs %0, primask" : "=r" (status));
    __asm__ volatile ("cpsid i");

    connect();
    exit_xip();
    erase(offset, count, FLASH_SECTOR_SIZE, FLASH_SECTOR_ERASE_CMD);
    flush();

    __asm__ volatile ("msr primask, %0" : : "r" (status));
}

// hal_read_unique_id reads the 8-byte factory unique ID out of OTP
// row locations documented in the RP2350 datasheet, into buf (which
// must have room for 8 bytes).
static void hal_read_unique_id(uint8_t *buf) {
    typedef int (*rom_otp_access_fn)(uint8_t *buf, uint32_t buf_len, uint32_t row_flags);
    rom_otp_access_fn otp_access = (rom_otp_access_fn)rom_func_lookup_inline(ROM_FUNC_OTP_ACCESS);
    if (!otp_access) {
        for (int i = 0; i < 8; i++) buf[i] = 0;
        return;
    }
    #define OTP_ROW_CHIPID 0x0
    #define OTP_CMD_READ   0x0
    otp_access(buf, 8, OTP_ROW_CHIPID | OTP_CMD_READ);
}

static void hal_watchdog_reboot(void) {
    #define WATCHDOG_BASE 0x400d8000
    #define WATCHDOG_CTRL (WATCHDOG_BASE + 0x00)
    #define WATCHDOG_CTRL_TRIGGER (1u << 31)
    *(volatile uint32_t*)WATCHDOG_CTRL = WATCHDOG_CTRL_TRIGGER;
    while(1) { __asm__("nop"); }
}
*/
import "C"

import (
	"unsafe"
)

// RP2350Flash drives flash through the ROM's connect/erase/program
// functions directly, bypassing TinyGo's machine.Flash offset
// assumptions. It satisfies FlashDriver.
type RP2350Flash struct {
	// Base is this firmware's own XIP-relative flash base, added to
	// every sector/address argument before the ROM call.
	Base uint32
}

// EraseSector erases the 4 KiB sector containing sector*SectorSize.
func (f RP2350Flash) EraseSector(sector uint32) (uint32, error) {
	offset := f.Base + sector*SectorSize
	C.hal_flash_erase(C.uint32_t(offset), C.uint32_t(SectorSize))
	return 0, nil
}

// ErasePage erases the sector containing addr: the RP2350's ROM
// exposes no page-granularity erase primitive, so a boot descriptor
// write erases its whole containing sector first (spec §5.5).
func (f RP2350Flash) ErasePage(addr uint32) (uint32, error) {
	sector := addr / SectorSize
	return f.EraseSector(sector)
}

// Program writes src to flash starting at dst, via the ROM's
// flash_range_program after connecting the flash controller and
// exiting XIP mode.
func (f RP2350Flash) Program(dst uint32, src []byte) (uint32, error) {
	if len(src) == 0 {
		return 0, nil
	}
	offset := f.Base + dst
	C.hal_flash_program(C.uint32_t(offset), (*C.uint8_t)(&src[0]), C.uint32_t(len(src)))
	return 0, nil
}

// ReadFlash reads directly from the memory-mapped XIP window: flash
// is readable without any ROM call once mapped.
func (f RP2350Flash) ReadFlash(addr uint32, buf []byte) error {
	base := unsafe.Pointer(uintptr(xipBase + f.Base + addr))
	src := unsafe.Slice((*byte)(base), len(buf))
	copy(buf, src)
	return nil
}

// ReadUniqueID reads the RP2350's 8-byte factory unique ID via the
// ROM's OTP access function, zero-padded to the 16 bytes the protocol
// carries (spec §4.4 treats it as opaque; only the first 12 bytes of
// whatever 16 are ever compared).
func (f RP2350Flash) ReadUniqueID() ([16]byte, error) {
	var raw [8]byte
	C.hal_read_unique_id((*C.uint8_t)(&raw[0]))
	var id [16]byte
	copy(id[:], raw[:])
	return id, nil
}

const (
	// SectorSize is the RP2350 flash erase granularity.
	SectorSize = 4096
	xipBase    = 0x10000000
)

// Reboot triggers a watchdog reset rather than calling the ROM reboot
// function directly, which proved less reliable on this target.
func Reboot() {
	C.hal_watchdog_reboot()
}
