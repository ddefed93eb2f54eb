//go:build windows

package workers

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/spaghettifunk/shadermake/compiler/options"
	"github.com/spaghettifunk/shadermake/compiler/planner"
)

var (
	dxcompilerDLL         = windows.NewLazySystemDLL("dxcompiler.dll")
	procDxcCreateInstance = dxcompilerDLL.NewProc("DxcCreateInstance")
)

// dxcapi.h identifiers.
var (
	clsidDxcCompiler = windows.GUID{Data1: 0x73e22d93, Data2: 0xe6ce, Data3: 0x47f3, Data4: [8]byte{0xb5, 0xbf, 0xf0, 0x66, 0x4f, 0x39, 0xc1, 0xb0}}
	clsidDxcUtils    = windows.GUID{Data1: 0x6245d6af, Data2: 0x66e0, Data3: 0x48fd, Data4: [8]byte{0x80, 0xb4, 0x4d, 0x27, 0x17, 0x96, 0x74, 0x8c}}

	iidIDxcCompiler3 = windows.GUID{Data1: 0x228b4687, Data2: 0x5a6a, Data3: 0x4730, Data4: [8]byte{0x90, 0x0c, 0x97, 0x02, 0xb2, 0x20, 0x3f, 0x54}}
	iidIDxcUtils     = windows.GUID{Data1: 0x4605c4cb, Data2: 0x2019, Data3: 0x492a, Data4: [8]byte{0xad, 0xa4, 0x65, 0xf2, 0x0b, 0xb7, 0xd6, 0x7f}}
	iidIDxcResult    = windows.GUID{Data1: 0x58346cda, Data2: 0xdde7, Data3: 0x4497, Data4: [8]byte{0x94, 0x61, 0x6f, 0x87, 0xaf, 0x5e, 0x06, 0x59}}
	iidIDxcBlob      = windows.GUID{Data1: 0x8ba5fb08, Data2: 0x5195, Data3: 0x40e2, Data4: [8]byte{0xac, 0x58, 0x0d, 0x98, 0x9c, 0x3a, 0x01, 0x02}}
)

const dxcOutPDB = 3 // DXC_OUT_KIND

type dxcBuffer struct {
	ptr      unsafe.Pointer
	size     uintptr
	encoding uint32
}

type dxcCompiler struct {
	vtbl *dxcCompilerVtbl
}

type dxcCompilerVtbl struct {
	queryInterface uintptr
	addRef         uintptr
	release        uintptr
	compile        uintptr
	disassemble    uintptr
}

type dxcUtils struct {
	vtbl *dxcUtilsVtbl
}

type dxcUtilsVtbl struct {
	queryInterface               uintptr
	addRef                       uintptr
	release                      uintptr
	createBlobFromBlob           uintptr
	createBlobFromPinned         uintptr
	moveToBlob                   uintptr
	createBlob                   uintptr
	loadFile                     uintptr
	createReadOnlyStreamFromBlob uintptr
	createDefaultIncludeHandler  uintptr
	getBlobAsUtf8                uintptr
	getBlobAsWide                uintptr
	getDxilContainerPart         uintptr
	createReflection             uintptr
	buildArguments               uintptr
	getPDBContents               uintptr
}

type dxcResult struct {
	vtbl *dxcResultVtbl
}

type dxcResultVtbl struct {
	queryInterface   uintptr
	addRef           uintptr
	release          uintptr
	getStatus        uintptr
	getResult        uintptr
	getErrorBuffer   uintptr
	hasOutput        uintptr
	getOutput        uintptr
	getNumOutputs    uintptr
	getOutputByIndex uintptr
	primaryOutput    uintptr
}

// dxcBackend compiles through the dxcompiler API. One compiler and one
// utils instance exist per worker; the SPIR-V register-shift argument
// triples are precomputed once.
type dxcBackend struct {
	opts      *options.Options
	compiler  *dxcCompiler
	utils     *dxcUtils
	regShifts []string
}

func newDxcBackend(opts *options.Options) (*dxcBackend, error) {
	if err := procDxcCreateInstance.Find(); err != nil {
		return nil, fmt.Errorf("can't load dxcompiler.dll: %w", err)
	}

	b := &dxcBackend{opts: opts}

	hr, _, _ := procDxcCreateInstance.Call(
		uintptr(unsafe.Pointer(&clsidDxcCompiler)),
		uintptr(unsafe.Pointer(&iidIDxcCompiler3)),
		uintptr(unsafe.Pointer(&b.compiler)),
	)
	if !succeeded(hr) || b.compiler == nil {
		return nil, fmt.Errorf("DxcCreateInstance(DxcCompiler) failed: 0x%08X", uint32(hr))
	}

	hr, _, _ = procDxcCreateInstance.Call(
		uintptr(unsafe.Pointer(&clsidDxcUtils)),
		uintptr(unsafe.Pointer(&iidIDxcUtils)),
		uintptr(unsafe.Pointer(&b.utils)),
	)
	if !succeeded(hr) || b.utils == nil {
		comCall(b.compiler.vtbl.release, uintptr(unsafe.Pointer(b.compiler)))
		return nil, fmt.Errorf("DxcCreateInstance(DxcUtils) failed: 0x%08X", uint32(hr))
	}

	if opts.Platform == options.PlatformSPIRV && !opts.NoRegShifts {
		shifts := [4]struct {
			arg  string
			base uint32
		}{
			{"-fvk-s-shift", opts.SRegShift},
			{"-fvk-t-shift", opts.TRegShift},
			{"-fvk-b-shift", opts.BRegShift},
			{"-fvk-u-shift", opts.URegShift},
		}
		for _, shift := range shifts {
			for space := 0; space < options.SpirvSpacesNum; space++ {
				b.regShifts = append(b.regShifts,
					shift.arg, fmt.Sprintf("%d", shift.base), fmt.Sprintf("%d", space))
			}
		}
	}

	return b, nil
}

func (b *dxcBackend) buildArgs(task *planner.Task, sourceFile string) []string {
	args := make([]string, 0, 16+2*(len(b.opts.Defines)+len(task.Defines)+len(b.opts.IncludeDirs))+len(b.regShifts)+len(b.opts.SpirvExtensions))

	args = append(args, sourceFile)
	args = append(args, "-T", profileString(b.opts, task))
	args = append(args, "-E", task.EntryPoint)

	for _, define := range b.opts.Defines {
		args = append(args, "-D", define)
	}
	for _, define := range task.Defines {
		args = append(args, "-D", define)
	}

	for _, dir := range b.opts.IncludeDirs {
		args = append(args, "-I", dir)
	}

	args = append(args, strings.TrimSpace(optimizationArg(task.OptimizationLevel)))

	if b.opts.ShaderModelIndex() >= 62 {
		args = append(args, "-enable-16bit-types")
	}
	if b.opts.WarningsAreErrors {
		args = append(args, "-WX")
	}
	if b.opts.AllResourcesBound {
		args = append(args, "-all_resources_bound")
	}
	if b.opts.MatrixRowMajor {
		args = append(args, "-Zpr")
	}
	if b.opts.Hlsl2021 {
		args = append(args, "-HV", "2021")
	}
	if b.opts.PDB {
		args = append(args, "-Zi", "-Zsb") // only binary code affects hash
	}
	if b.opts.EmbedPDB {
		args = append(args, "-Qembed_debug")
	}

	if b.opts.Platform == options.PlatformSPIRV {
		args = append(args, "-spirv")
		args = append(args, "-fspv-target-env=vulkan"+b.opts.VulkanVersion)

		if b.opts.VulkanMemLayout != "" {
			args = append(args, "-fvk-use-"+b.opts.VulkanMemLayout+"-layout")
		}

		for _, ext := range b.opts.SpirvExtensions {
			args = append(args, "-fspv-extension="+ext)
		}

		args = append(args, b.regShifts...)
	} else { // Not supported by SPIRV gen
		if b.opts.StripReflection {
			args = append(args, "-Qstrip_reflect")
		}
	}

	return args
}

func (b *dxcBackend) Run(task *planner.Task) Result {
	sourceFile := task.SourceFile(b.opts)

	sourcePtr, err := windows.UTF16PtrFromString(sourceFile)
	if err != nil {
		return Result{Status: StatusFailed, Message: err.Error() + "\n"}
	}

	var sourceBlob *comBlob
	hr := comCall(b.utils.vtbl.loadFile,
		uintptr(unsafe.Pointer(b.utils)),
		uintptr(unsafe.Pointer(sourcePtr)),
		0,
		uintptr(unsafe.Pointer(&sourceBlob)),
	)
	if !succeeded(hr) || sourceBlob == nil {
		return Result{Status: StatusFailed, Message: fmt.Sprintf("can't load source file '%s': 0x%08X\n", sourceFile, uint32(hr))}
	}
	defer sourceBlob.Release()

	args := b.buildArgs(task, sourceFile)

	wideArgs := make([]*uint16, len(args))
	for i, arg := range args {
		wideArgs[i], err = windows.UTF16PtrFromString(arg)
		if err != nil {
			return Result{Status: StatusFailed, Message: err.Error() + "\n"}
		}
	}

	var includeHandler unsafe.Pointer
	comCall(b.utils.vtbl.createDefaultIncludeHandler,
		uintptr(unsafe.Pointer(b.utils)),
		uintptr(unsafe.Pointer(&includeHandler)),
	)
	defer releaseUnknown(includeHandler)

	source := unsafe.Pointer(comCall(sourceBlob.vtbl.getBufferPointer, uintptr(unsafe.Pointer(sourceBlob))))
	sourceSize := comCall(sourceBlob.vtbl.getBufferSize, uintptr(unsafe.Pointer(sourceBlob)))
	buffer := dxcBuffer{ptr: source, size: sourceSize}

	var result *dxcResult
	hr = comCall(b.compiler.vtbl.compile,
		uintptr(unsafe.Pointer(b.compiler)),
		uintptr(unsafe.Pointer(&buffer)),
		uintptr(unsafe.Pointer(&wideArgs[0])),
		uintptr(len(wideArgs)),
		uintptr(includeHandler),
		uintptr(unsafe.Pointer(&iidIDxcResult)),
		uintptr(unsafe.Pointer(&result)),
	)
	runtime.KeepAlive(wideArgs)
	if !succeeded(hr) || result == nil {
		return Result{Status: StatusFailed, Message: fmt.Sprintf("IDxcCompiler3::Compile failed: 0x%08X\n", uint32(hr))}
	}
	defer comCall(result.vtbl.release, uintptr(unsafe.Pointer(result)))

	var status int32
	comCall(result.vtbl.getStatus, uintptr(unsafe.Pointer(result)), uintptr(unsafe.Pointer(&status)))

	var codeBlob, errorBlob *comBlob
	comCall(result.vtbl.getResult, uintptr(unsafe.Pointer(result)), uintptr(unsafe.Pointer(&codeBlob)))
	comCall(result.vtbl.getErrorBuffer, uintptr(unsafe.Pointer(result)), uintptr(unsafe.Pointer(&errorBlob)))
	defer codeBlob.Release()
	defer errorBlob.Release()

	message := string(errorBlob.Bytes())
	if status < 0 || codeBlob == nil {
		return Result{Status: StatusFailed, Message: message}
	}

	if b.opts.PDB {
		if err := b.dumpPDB(result, task); err != nil {
			return Result{Status: StatusFailed, Message: err.Error() + "\n"}
		}
	}

	if err := DumpBinaryAndHeader(b.opts, task, codeBlob.Bytes()); err != nil {
		return Result{Status: StatusFailed, Message: err.Error() + "\n"}
	}

	return Result{Status: StatusOK, Message: message}
}

// dumpPDB stores the PDB output under the compiler-suggested name; the
// driver only chooses the directory.
func (b *dxcBackend) dumpPDB(result *dxcResult, task *planner.Task) error {
	var pdbBlob *comBlob
	var pdbName *wideBlob
	hr := comCall(result.vtbl.getOutput,
		uintptr(unsafe.Pointer(result)),
		dxcOutPDB,
		uintptr(unsafe.Pointer(&iidIDxcBlob)),
		uintptr(unsafe.Pointer(&pdbBlob)),
		uintptr(unsafe.Pointer(&pdbName)),
	)
	if !succeeded(hr) || pdbBlob == nil {
		// For SPIR-V the PDB can only be embedded; GetOutput quietly has
		// nothing to return.
		return nil
	}
	defer pdbBlob.Release()
	defer pdbName.Release()

	file := filepath.Join(filepath.Dir(task.OutputFileWithoutExt), options.PdbDir, pdbName.String())
	if err := os.WriteFile(file, pdbBlob.Bytes(), 0o644); err != nil {
		return fmt.Errorf("can't write PDB '%s': %w", file, err)
	}

	return nil
}

func releaseUnknown(obj unsafe.Pointer) {
	if obj == nil {
		return
	}
	vtbl := *(**[3]uintptr)(obj)
	comCall(vtbl[2], uintptr(obj))
}
