package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"gosig/hexdump"
	"gosig/module_image"
	"gosig/process"
	"gosig/process/memory_map"
	"gosig/signature"
)

func main() {
	pidFlag := flag.Int("pid", 0, "Process ID to attach to")
	nameFlag := flag.String("name", "", "Process name to attach to (lowest PID wins)")
	moduleFlag := flag.String("module", "", "Module to scan inside the process, e.g. game.exe")
	fileFlag := flag.String("file", "", "PE file on disk to scan instead of a process")
	sigFlag := flag.String("sig", "", "Signature to scan for (e.g. 'E8 ?? ?? ?? ?? 48 8B D8')")
	sectionFlag := flag.String("section", "text", "Section to scan: text, data, rdata or module")
	rawFlag := flag.Bool("raw", false, "Do not follow E8/E9 branches on text matches")
	staticFlag := flag.Int("static", -1, "Resolve a static address starting this many bytes into the text match")
	allFlag := flag.Bool("all", false, "List every text match")
	isolateFlag := flag.Bool("isolate", true, "Scan a private snapshot of the module")
	cacheFlag := flag.String("cache", "", "JSON file caching text scan results per image build")
	contextFlag := flag.Int("context", 32, "Bytes of context to dump around each match")
	flag.Parse()

	if *sigFlag == "" {
		fmt.Println("Error: --sig is required")
		flag.Usage()
		os.Exit(1)
	}

	sig, err := signature.Compile(*sigFlag)
	if err != nil {
		fmt.Printf("Error parsing signature: %v\n", err)
		os.Exit(1)
	}

	var options []module_image.Option
	if *isolateFlag {
		options = append(options, module_image.WithIsolation())
	}
	if *cacheFlag != "" {
		options = append(options, module_image.WithCache(*cacheFlag))
	}

	var (
		space *module_image.SearchSpace
		mm    []memory_map.MemoryMapItem
	)

	switch {
	case *fileFlag != "":
		image, err := module_image.LoadFile(*fileFlag)
		if err != nil {
			fmt.Printf("Error loading %s: %v\n", *fileFlag, err)
			os.Exit(1)
		}
		space, err = module_image.NewSearchSpace(image, image.Base(), image.Size(), options...)
		if err != nil {
			fmt.Printf("Error parsing %s: %v\n", *fileFlag, err)
			os.Exit(1)
		}

	case *pidFlag != 0 || *nameFlag != "":
		proc, err := getProcess(*pidFlag, *nameFlag)
		if err != nil {
			fmt.Printf("Error attaching to process: %v\n", err)
			os.Exit(1)
		}
		defer proc.Close()

		module := *moduleFlag
		if module == "" && *nameFlag != "" {
			module = *nameFlag
		}
		if module == "" {
			fmt.Println("Error: --module is required with --pid")
			os.Exit(1)
		}

		info, err := proc.FindModule(module)
		if err != nil {
			fmt.Printf("Error locating module: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Attached to process %d, %s at %s\n", proc.GetPID(), filepath.Base(info.Path), info.Base.ToString())

		mm, _ = proc.GetMemoryMap()
		space, err = module_image.NewSearchSpace(proc, info.Base, 0, options...)
		if err != nil {
			fmt.Printf("Error parsing module: %v\n", err)
			os.Exit(1)
		}

	default:
		fmt.Println("Error: one of --file, --pid or --name is required")
		flag.Usage()
		os.Exit(1)
	}
	defer space.Close()

	fmt.Printf("Scanning %s for %s\n", *sectionFlag, sig.String())

	matches, err := run(space, *sigFlag, *sectionFlag, *rawFlag, *allFlag, *staticFlag)
	if err != nil {
		if errors.Is(err, module_image.ErrPatternNotFound) || errors.Is(err, module_image.ErrStaticAddressNotFound) {
			fmt.Println(err)
			os.Exit(2)
		}
		fmt.Printf("Error scanning: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Found %d matches:\n", len(matches))
	for _, match := range matches {
		fmt.Printf("Match at %s (+0x%x)\n", match.ToString(), uint64(match-space.Base))
		dumpAround(space, match, sig, *contextFlag, mm)
	}
}

func run(space *module_image.SearchSpace, sig, section string, raw, all bool, static int) ([]process.ProcessMemoryAddress, error) {
	if static >= 0 {
		addr, err := space.GetStaticAddressFromSig(sig, static)
		return []process.ProcessMemoryAddress{addr}, err
	}

	var (
		addr process.ProcessMemoryAddress
		err  error
	)

	switch section {
	case "text":
		switch {
		case all:
			return space.ScanAllText(sig)
		case raw:
			addr, err = space.ScanTextRaw(sig)
		default:
			addr, err = space.ScanText(sig)
		}
	case "data":
		addr, err = space.ScanData(sig)
	case "rdata":
		addr, err = space.ScanRData(sig)
	case "module":
		addr, err = space.ScanModule(sig)
	default:
		return nil, fmt.Errorf("unknown section %q", section)
	}

	if err != nil {
		return nil, err
	}
	return []process.ProcessMemoryAddress{addr}, nil
}

// dumpAround prints context bytes before and after addr, highlighting the
// signature when it sits at addr.
func dumpAround(space *module_image.SearchSpace, addr process.ProcessMemoryAddress, sig signature.Signature, context int, mm []memory_map.MemoryMapItem) {
	start := addr.Add(-int64(context))
	if start < space.Base {
		start = space.Base
	}
	end := addr.Add(int64(sig.Len() + context))
	if moduleEnd := space.Range().End(); end > moduleEnd {
		end = moduleEnd
	}
	if end <= start {
		return
	}

	data, err := space.ReadMemory(start, process.ProcessMemorySize(end-start))
	if err != nil {
		fmt.Printf("  (no context: %v)\n", err)
		return
	}

	offset := int(addr - start)
	if !sig.Matches(data[offset:]) {
		// a resolved branch or static address rather than the match itself
		offset = -len(sig.Mask)
	}
	fmt.Print(hexdump.DumpMatch(data, uint64(start), offset, sig, mm))
}
