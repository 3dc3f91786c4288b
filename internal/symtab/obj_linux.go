package symtab

import (
	"debug/elf"
	"os"
)

func init() {
	f, err := elf.Open(os.Args[0])
	if err != nil {
		panic("cannot read ELF binary: " + err.Error())
	}
	defer f.Close()

	initELFFunctionTables(f)
}

func initELFFunctionTables(f *elf.File) {
	pclntab := f.Section(".gopclntab")
	if pclntab == nil {
		panic("cannot read pclntab: section missing")
	}
	pclntabData, err := readSection(pclntab, pclntab.Size)
	if err != nil {
		panic("cannot read pclntab: " + err.Error())
	}
	// The symtab section is empty in binaries produced by modern toolchains;
	// the line table alone carries the function names and entries.
	var symtabData []byte
	if symtab := f.Section(".gosymtab"); symtab != nil {
		symtabData, err = readSection(symtab, symtab.Size)
		if err != nil {
			panic("cannot read symtab: " + err.Error())
		}
	}
	initFunctionTables(pclntabData, symtabData)
}
