package upbeat

import (
	"fmt"
	"sync"

	"tranquil/src/lib/trust"
)

func BoardRevisionDecode(s string) string {
	switch s {
	case "a02082":
		return "3B, Revision 1.2, 1GB, Sony UK"
	case "a020d3":
		return "3B+, Revision 1.3, 1GB, Sony UK"
	case "a03111":
		return "4B, Revision 1.1, 1GB, Sony UK"
	case "b03111":
		return "4B, Revision 1.1, 2GB, Sony UK"
	case "b03112":
		return "4B, Revision 1.2, 2GB, Sony UK"
	case "b03114":
		return "4B, Revision 1.4, 2GB, Sony UK"
	case "c03111":
		return "4B, Revision 1.1, 4GB, Sony UK"
	case "c03112":
		return "4B, Revision 1.2, 4GB, Sony UK"
	case "c03114":
		return "4B, Revision 1.4, 4GB, Sony UK"
	case "d03114":
		return "4B, Revision 1.4, 8GB, Sony UK"
	}
	return "unknown board"
}

// EntryErrorMessages names the 16 slots of the exception vector table, in
// table order.  Only IRQ from EL1h is expected; every other slot is an
// invalid entry.
var EntryErrorMessages = [16]string{
	"SYNC_INVALID_EL1t",
	"IRQ_INVALID_EL1t",
	"FIQ_INVALID_EL1t",
	"ERROR_INVALID_EL1t",

	"SYNC_INVALID_EL1h",
	"IRQ_INVALID_EL1h",
	"FIQ_INVALID_EL1h",
	"ERROR_INVALID_EL1h",

	"SYNC_INVALID_EL0_64",
	"IRQ_INVALID_EL0_64",
	"FIQ_INVALID_EL0_64",
	"ERROR_INVALID_EL0_64",

	"SYNC_INVALID_EL0_32",
	"IRQ_INVALID_EL0_32",
	"FIQ_INVALID_EL0_32",
	"ERROR_INVALID_EL0_32",
}

// EntryName is safe for out of range vector slots.
func EntryName(kind int) string {
	if kind < 0 || kind >= len(EntryErrorMessages) {
		return fmt.Sprintf("UNKNOWN_ENTRY_%d", kind)
	}
	return EntryErrorMessages[kind]
}

// ExceptionClass decodes the EC field (bits 31:26) of an ESR_EL1 value.
func ExceptionClass(esr uint64) string {
	exceptionClass := (esr >> 26) & 0x3f
	switch exceptionClass {
	case 0:
		return "unknown exception"
	case 1:
		return "trapped WFE or WFI instruction"
	case 3, 4:
		return "trapped MCRR or MRRC access"
	case 5:
		return "trapped MRC or MCR access"
	case 6:
		return "trapped LDC or STC access"
	case 7:
		return "access to SVE, advanced SIMD or FP functionality"
	case 12:
		return "trapped MRRC access"
	case 13:
		return "branch target exception"
	case 14:
		return "illegal execution state"
	case 17:
		return fmt.Sprintf("SVC instruction in AARCH32 [%d]", esr&0xffff)
	case 21:
		return fmt.Sprintf("SVC instruction in AARCH64 [%d]", esr&0xffff)
	case 24:
		return "trapped MRS, MSR or System instruction in AARCH64"
	case 25:
		return "access to SVE functionality"
	case 32:
		return "instruction abort from lower exception level"
	case 33:
		return "instruction abort from same exception level"
	case 34:
		return "PC alignment fault"
	case 36:
		return "data abort from lower exception level"
	case 37:
		return "data abort from same exception level"
	case 40:
		return "trapped floating point exception from AARCH32"
	case 44:
		return "trapped floating point exception from AARCH64"
	case 47:
		return "SError exception"
	case 48:
		return "breakpoint from lower exception level"
	case 49:
		return "breakpoint from same exception level"
	case 50:
		return "software step from lower exception level"
	case 51:
		return "software step from same exception level"
	case 52:
		return "watchpoint from lower exception level"
	case 53:
		return "watchpoint from same exception level"
	case 56:
		return "BKPT from AARCH32"
	case 60:
		return "BRK from AARCH64"
	}
	return fmt.Sprintf("unused exception code, should never happen (%d)", exceptionClass)
}

func PrintoutException(esr uint64, c *trust.Logger) {
	c.Errorf("%s", ExceptionClass(esr))
}

//
// InterruptState models the I bit of DAIF for one core plus the number of
// exception frames that are live.  Exception entry masks IRQs and pushes a
// frame, exception return pops it and restores the mask that was in effect.
// The hardware goroutines never touch this, only the core that owns it, but
// tests read it from outside so it is locked anyway.
//
type InterruptState struct {
	mu      sync.Mutex
	masked  bool
	depth   int
	deepest int
	unmasks uint64
}

// NewInterruptState starts masked, like a core coming out of reset.
func NewInterruptState() *InterruptState {
	return &InterruptState{masked: true}
}

// MaskDAIF is "msr daifset, #2".
func (s *InterruptState) MaskDAIF() {
	s.mu.Lock()
	s.masked = true
	s.mu.Unlock()
}

// UnmaskDAIF is "msr daifclr, #2".
func (s *InterruptState) UnmaskDAIF() {
	s.mu.Lock()
	s.masked = false
	s.unmasks++
	s.mu.Unlock()
}

func (s *InterruptState) Masked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.masked
}

// Enter is exception entry.  The returned value must be handed back to Exit.
func (s *InterruptState) Enter() (wasMasked bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wasMasked = s.masked
	s.masked = true
	s.depth++
	if s.depth > s.deepest {
		s.deepest = s.depth
	}
	return wasMasked
}

// Exit is exception return (eret).
func (s *InterruptState) Exit(wasMasked bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.depth > 0 {
		s.depth--
	}
	s.masked = wasMasked
}

// Depth is the number of exception frames currently live.
func (s *InterruptState) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.depth
}

// Deepest is the high water mark of Depth.
func (s *InterruptState) Deepest() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deepest
}

// Unmasks counts UnmaskDAIF calls.
func (s *InterruptState) Unmasks() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unmasks
}
