package joy

import (
	"encoding/binary"
	"fmt"

	"tranquil/src/lib/upbeat"
)

// InvalidEntry is where every vector slot other than IRQ from EL1h ends up.
// kind is the slot number in the vector table.
func (k *Kernel) InvalidEntry(kind int, esr uint64, addr uint64) {
	k.log.Errorf("%s, ESR: %x, address: %x", upbeat.EntryName(kind), esr, addr)
	upbeat.PrintoutException(esr, k.log)
	if k.console != nil {
		upbeat.WriteString(k.console, "ESR ")
		upbeat.Hex64string(k.console, esr)
		upbeat.WriteString(k.console, "ADDR ")
		upbeat.Hex64string(k.console, addr)
		upbeat.WriteCR(k.console)
		k.DumpContext(k.current.id)
	}
	k.Halt(fmt.Sprintf("invalid exception entry %s", upbeat.EntryName(kind)))
}

// DumpContext writes the saved registers of task id to the console as raw
// bytes, the way they sit at the bottom of the task's page.
func (k *Kernel) DumpContext(id TaskId) {
	t := k.Task(id)
	if t == nil || k.console == nil {
		return
	}
	raw := make([]byte, 8*len(t.ctx))
	for i, r := range t.ctx {
		binary.LittleEndian.PutUint64(raw[8*i:], r)
	}
	upbeat.Dump(k.console, uint32(t.page), raw)
}
