package symtab

import (
	"debug/macho"
	"os"
)

func init() {
	f, err := macho.Open(os.Args[0])
	if err != nil {
		panic("cannot read Mach-O binary: " + err.Error())
	}
	defer f.Close()

	initMachOFunctionTables(f)
}

func initMachOFunctionTables(f *macho.File) {
	pclntab := f.Section("__gopclntab")
	if pclntab == nil {
		panic("cannot read pclntab: section missing")
	}
	pclntabData, err := readSection(pclntab, pclntab.Size)
	if err != nil {
		panic("cannot read pclntab: " + err.Error())
	}
	var symtabData []byte
	if symtab := f.Section("__gosymtab"); symtab != nil {
		symtabData, err = readSection(symtab, symtab.Size)
		if err != nil {
			panic("cannot read symtab: " + err.Error())
		}
	}
	initFunctionTables(pclntabData, symtabData)
}
