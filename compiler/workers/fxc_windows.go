//go:build windows

package workers

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/spaghettifunk/shadermake/compiler/options"
	"github.com/spaghettifunk/shadermake/compiler/planner"
)

var (
	d3dCompilerDLL         = windows.NewLazySystemDLL("d3dcompiler_47.dll")
	procD3DCompileFromFile = d3dCompilerDLL.NewProc("D3DCompileFromFile")
	procD3DGetBlobPart     = d3dCompilerDLL.NewProc("D3DGetBlobPart")
	procD3DStripShader     = d3dCompilerDLL.NewProc("D3DStripShader")
)

// d3dcompiler.h flag values.
const (
	d3dCompileDebug              = 1 << 0
	d3dCompileSkipOptimization   = 1 << 2
	d3dCompilePackMatrixRowMajor = 1 << 3
	d3dCompileOptimizationLevel0 = 1 << 14
	d3dCompileOptimizationLevel1 = 0
	d3dCompileOptimizationLevel2 = (1 << 14) | (1 << 15)
	d3dCompileOptimizationLevel3 = 1 << 15
	d3dCompileWarningsAreErrors  = 1 << 18
	d3dCompileAllResourcesBound  = 1 << 21
	d3dCompileDebugNameForBinary = 1 << 23

	d3dBlobPDB       = 9
	d3dBlobDebugName = 12

	d3dStripReflectionData = 1 << 0
	d3dStripDebugInfo      = 1 << 1

	hresultFail = 0x80004005 // E_FAIL
)

var fxcOptimizationRemap = [4]uint32{
	d3dCompileSkipOptimization,
	d3dCompileOptimizationLevel1,
	d3dCompileOptimizationLevel2,
	d3dCompileOptimizationLevel3,
}

type d3dShaderMacro struct {
	name       *byte
	definition *byte
}

// fxcBackend compiles through the d3dcompiler API. The global defines are
// tokenized once per worker.
type fxcBackend struct {
	opts          *options.Options
	globalDefines []d3dShaderMacro
	keepAlive     []*byte // backing storage for the macro strings
}

func newFxcBackend(opts *options.Options) (*fxcBackend, error) {
	if err := procD3DCompileFromFile.Find(); err != nil {
		return nil, fmt.Errorf("can't load d3dcompiler_47.dll: %w", err)
	}

	b := &fxcBackend{opts: opts}
	var err error
	b.globalDefines, err = b.tokenizeDefines(opts.Defines)
	if err != nil {
		return nil, err
	}

	return b, nil
}

// tokenizeDefines splits "NAME=VALUE" strings into macro pairs; a bare
// "NAME" yields a null definition.
func (b *fxcBackend) tokenizeDefines(defines []string) ([]d3dShaderMacro, error) {
	macros := make([]d3dShaderMacro, 0, len(defines))
	for _, define := range defines {
		name, value, hasValue := strings.Cut(define, "=")

		macro := d3dShaderMacro{}
		namePtr, err := syscall.BytePtrFromString(name)
		if err != nil {
			return nil, err
		}
		macro.name = namePtr
		b.keepAlive = append(b.keepAlive, namePtr)

		if hasValue {
			valuePtr, err := syscall.BytePtrFromString(value)
			if err != nil {
				return nil, err
			}
			macro.definition = valuePtr
			b.keepAlive = append(b.keepAlive, valuePtr)
		}

		macros = append(macros, macro)
	}

	return macros, nil
}

func (b *fxcBackend) Run(task *planner.Task) Result {
	defines := make([]d3dShaderMacro, 0, len(b.globalDefines)+len(task.Defines)+1)
	defines = append(defines, b.globalDefines...)
	taskMacros, err := b.tokenizeDefines(task.Defines)
	if err != nil {
		return Result{Status: StatusFailed, Message: err.Error() + "\n"}
	}
	defines = append(defines, taskMacros...)
	defines = append(defines, d3dShaderMacro{}) // terminator

	flags := fxcOptimizationRemap[task.OptimizationLevel]
	if b.opts.PDB {
		flags |= d3dCompileDebug | d3dCompileDebugNameForBinary
	}
	if b.opts.AllResourcesBound {
		flags |= d3dCompileAllResourcesBound
	}
	if b.opts.WarningsAreErrors {
		flags |= d3dCompileWarningsAreErrors
	}
	if b.opts.MatrixRowMajor {
		flags |= d3dCompilePackMatrixRowMajor
	}

	sourceFile := task.SourceFile(b.opts)
	sourcePtr, err := windows.UTF16PtrFromString(sourceFile)
	if err != nil {
		return Result{Status: StatusFailed, Message: err.Error() + "\n"}
	}

	entryPtr, err := syscall.BytePtrFromString(task.EntryPoint)
	if err != nil {
		return Result{Status: StatusFailed, Message: err.Error() + "\n"}
	}
	profilePtr, err := syscall.BytePtrFromString(task.Profile + "_5_0")
	if err != nil {
		return Result{Status: StatusFailed, Message: err.Error() + "\n"}
	}

	includer := newFxcIncluder(filepath.Dir(sourceFile), b.opts.IncludeDirs)
	defer includer.release()

	var codeBlob, errorBlob *comBlob
	hr, _, _ := procD3DCompileFromFile.Call(
		uintptr(unsafe.Pointer(sourcePtr)),
		uintptr(unsafe.Pointer(&defines[0])),
		includer.comPointer(),
		uintptr(unsafe.Pointer(entryPtr)),
		uintptr(unsafe.Pointer(profilePtr)),
		uintptr(flags), 0,
		uintptr(unsafe.Pointer(&codeBlob)),
		uintptr(unsafe.Pointer(&errorBlob)),
	)
	runtime.KeepAlive(defines)
	runtime.KeepAlive(taskMacros)
	defer codeBlob.Release()
	defer errorBlob.Release()

	message := string(errorBlob.Bytes())
	if !succeeded(hr) || codeBlob == nil {
		return Result{Status: StatusFailed, Message: message}
	}

	code := codeBlob.Bytes()

	if b.opts.PDB {
		if err := b.dumpPDB(task, code); err != nil {
			return Result{Status: StatusFailed, Message: err.Error() + "\n"}
		}
	}

	if b.opts.StripReflection {
		stripped, err := stripShader(code)
		if err != nil {
			return Result{Status: StatusFailed, Message: err.Error() + "\n"}
		}
		code = stripped
	}

	if err := DumpBinaryAndHeader(b.opts, task, code); err != nil {
		return Result{Status: StatusFailed, Message: err.Error() + "\n"}
	}

	return Result{Status: StatusOK, Message: message}
}

// dumpPDB extracts the debug-info blob and the compiler-suggested file name
// from the compiled shader and stores the PDB next to the outputs.
func (b *fxcBackend) dumpPDB(task *planner.Task, code []byte) error {
	pdb, err := getBlobPart(code, d3dBlobPDB)
	if err != nil {
		return err
	}

	nameBlob, err := getBlobPart(code, d3dBlobDebugName)
	if err != nil {
		return err
	}

	// The name blob starts with {Flags uint16, NameLength uint16} followed
	// by the UTF-8 name.
	if len(nameBlob) < 4 {
		return fmt.Errorf("malformed shader debug name blob")
	}
	nameLength := binary.LittleEndian.Uint16(nameBlob[2:4])
	if int(4+nameLength) > len(nameBlob) {
		return fmt.Errorf("malformed shader debug name blob")
	}
	pdbName := string(nameBlob[4 : 4+nameLength])

	file := filepath.Join(filepath.Dir(task.OutputFileWithoutExt), options.PdbDir, pdbName)
	if err := os.WriteFile(file, pdb, 0o644); err != nil {
		return fmt.Errorf("can't write PDB '%s': %w", file, err)
	}

	return nil
}

func getBlobPart(code []byte, part uint32) ([]byte, error) {
	var blob *comBlob
	hr, _, _ := procD3DGetBlobPart.Call(
		uintptr(unsafe.Pointer(&code[0])),
		uintptr(len(code)),
		uintptr(part), 0,
		uintptr(unsafe.Pointer(&blob)),
	)
	runtime.KeepAlive(code)
	if !succeeded(hr) || blob == nil {
		return nil, fmt.Errorf("D3DGetBlobPart(%d) failed: 0x%08X", part, uint32(hr))
	}
	defer blob.Release()

	return blob.Bytes(), nil
}

func stripShader(code []byte) ([]byte, error) {
	var blob *comBlob
	hr, _, _ := procD3DStripShader.Call(
		uintptr(unsafe.Pointer(&code[0])),
		uintptr(len(code)),
		uintptr(d3dStripReflectionData|d3dStripDebugInfo),
		uintptr(unsafe.Pointer(&blob)),
	)
	runtime.KeepAlive(code)
	if !succeeded(hr) || blob == nil {
		return nil, fmt.Errorf("D3DStripShader failed: 0x%08X", uint32(hr))
	}
	defer blob.Release()

	return blob.Bytes(), nil
}

//
// ID3DInclude implementation. The vtable holds just Open and Close (no
// IUnknown); sub-includes resolve relative to the innermost open file via
// an explicit directory stack unwound in Close.
//

type fxcIncluderVtbl struct {
	open  uintptr
	close uintptr
}

var fxcIncluderCallbacks = sync.OnceValue(func() *fxcIncluderVtbl {
	return &fxcIncluderVtbl{
		open:  syscall.NewCallback(fxcIncluderOpen),
		close: syscall.NewCallback(fxcIncluderClose),
	}
})

type fxcIncluder struct {
	vtbl *fxcIncluderVtbl
	dirs []string
	base int // length of the fixed search path at the bottom of dirs
	pins map[uintptr]*runtime.Pinner
}

func newFxcIncluder(sourceDir string, includeDirs []string) *fxcIncluder {
	dirs := make([]string, 0, len(includeDirs)+8)
	dirs = append(dirs, sourceDir)
	dirs = append(dirs, includeDirs...)

	return &fxcIncluder{
		vtbl: fxcIncluderCallbacks(),
		dirs: dirs,
		base: len(dirs),
		pins: map[uintptr]*runtime.Pinner{},
	}
}

func (inc *fxcIncluder) comPointer() uintptr {
	return uintptr(unsafe.Pointer(inc))
}

func (inc *fxcIncluder) release() {
	for _, pin := range inc.pins {
		pin.Unpin()
	}
	inc.pins = nil
}

func fxcIncluderOpen(this, includeType, fileName, parentData uintptr, ppData *unsafe.Pointer, pBytes *uint32) uintptr {
	inc := (*fxcIncluder)(unsafe.Pointer(this))
	name := windows.BytePtrToString((*byte)(unsafe.Pointer(fileName)))

	// Directories of open includes, innermost first, then the fixed path.
	order := make([]string, 0, len(inc.dirs))
	for i := len(inc.dirs) - 1; i >= inc.base; i-- {
		order = append(order, inc.dirs[i])
	}
	order = append(order, inc.dirs[:inc.base]...)

	for _, dir := range order {
		file := filepath.Join(dir, name)

		data, err := os.ReadFile(file)
		if err != nil {
			continue
		}
		if len(data) == 0 {
			data = []byte{0}
		}

		// Sub-includes of this file resolve relative to it first.
		inc.dirs = append(inc.dirs, filepath.Dir(file))

		pin := new(runtime.Pinner)
		pin.Pin(&data[0])
		inc.pins[uintptr(unsafe.Pointer(&data[0]))] = pin

		*ppData = unsafe.Pointer(&data[0])
		*pBytes = uint32(len(data))

		return 0 // S_OK
	}

	return hresultFail
}

func fxcIncluderClose(this, pData uintptr) uintptr {
	inc := (*fxcIncluder)(unsafe.Pointer(this))

	// Pop the innermost include directory.
	if len(inc.dirs) > 0 {
		inc.dirs = inc.dirs[:len(inc.dirs)-1]
	}

	if pin, ok := inc.pins[pData]; ok {
		pin.Unpin()
		delete(inc.pins, pData)
	}

	return 0
}
